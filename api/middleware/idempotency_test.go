package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type memIdempotencyStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memIdempotencyStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memIdempotencyStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return nil
}

func (m *memIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func keyedRequest(method, path, key, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestMatchIdempotentRoute(t *testing.T) {
	cases := []struct {
		method    string
		path      string
		ok        bool
		moneyMove bool
	}{
		{http.MethodPost, "/api/v1/deliveries/d1/confirm", true, true},
		{http.MethodPost, "/api/admin/v1/payouts/p1/complete", true, true},
		{http.MethodPost, "/api/admin/v1/payouts/sweep", true, false},
		{http.MethodPost, "/api/v1/deliveries/d1/timeout/suspend/", true, false},
		{http.MethodPut, "/api/admin/v1/providers/p1/members/u1", true, false},
		{http.MethodPost, "/api/admin/v1/outbox/dlq/e1/requeue", true, false},
		{http.MethodGet, "/api/v1/deliveries/d1", false, false},
		{http.MethodPost, "/api/v1/webhooks/payouts", false, false},
		{http.MethodPost, "/api/v1/deliveries//confirm", false, false},
	}
	for _, tc := range cases {
		route, ok := matchIdempotentRoute(tc.method, tc.path)
		if ok != tc.ok || route.moneyMovement != tc.moneyMove {
			t.Fatalf("%s %s: ok=%v money=%v", tc.method, tc.path, ok, route.moneyMovement)
		}
	}
}

func TestRecordTTL(t *testing.T) {
	if got := recordTTL(idempotentRoute{moneyMovement: true}, time.Hour); got != moneyMovementTTL {
		t.Fatalf("money movement ttl = %s", got)
	}
	if got := recordTTL(idempotentRoute{}, time.Hour); got != time.Hour {
		t.Fatalf("standard ttl = %s", got)
	}
	if got := recordTTL(idempotentRoute{}, 0); got != 24*time.Hour {
		t.Fatalf("fallback ttl = %s", got)
	}
}

func TestIdempotencyRequiresKey(t *testing.T) {
	ran := false
	h := Idempotency(newMemIdempotencyStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/v1/deliveries/d1/transition", "", `{}`))
	if rec.Code != http.StatusBadRequest || ran {
		t.Fatalf("expected 400 without running handler, got %d ran=%v", rec.Code, ran)
	}
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newMemIdempotencyStore()
	calls := 0
	h := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"x"}}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, keyedRequest(http.MethodPost, "/api/v1/deliveries/d1/confirm", "k1", `{"a":1}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, keyedRequest(http.MethodPost, "/api/v1/deliveries/d1/confirm", "k1", `{"a":1}`))

	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"data":{"id":"x"}}` {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayedHeader) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replay headers missing: %v", second.Header())
	}
	for _, ttl := range store.ttls {
		if ttl != moneyMovementTTL {
			t.Fatalf("confirm record kept for %s", ttl)
		}
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(newMemIdempotencyStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), keyedRequest(http.MethodPost, "/api/admin/v1/payouts/sweep", "k2", `{"a":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, keyedRequest(http.MethodPost, "/api/admin/v1/payouts/sweep", "k2", `{"a":2}`))

	if rec.Code != http.StatusConflict || errorCode(t, rec) != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected idempotency conflict, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestIdempotencyReportsInFlightRequest(t *testing.T) {
	store := newMemIdempotencyStore()
	var h http.Handler
	var nested *httptest.ResponseRecorder
	h = Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if nested == nil {
			nested = httptest.NewRecorder()
			h.ServeHTTP(nested, keyedRequest(http.MethodPost, "/api/admin/v1/payouts/sweep", "k3", `{}`))
		}
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), keyedRequest(http.MethodPost, "/api/admin/v1/payouts/sweep", "k3", `{}`))
	if nested.Code != http.StatusConflict || errorCode(t, nested) != string(pkgerrors.CodeLockContended) {
		t.Fatalf("expected lock contended for concurrent duplicate, got %d %s", nested.Code, nested.Body.String())
	}
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newMemIdempotencyStore()
	calls := 0
	h := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), keyedRequest(http.MethodPost, "/api/v1/deliveries/d1/transition", "k4", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected retry after 5xx to run again, ran %d", calls)
	}
	if len(store.values) != 0 {
		t.Fatalf("expected no stored record, got %v", store.values)
	}
}

func TestIdempotencyPassesThroughUnlistedRoutes(t *testing.T) {
	ran := false
	h := Idempotency(newMemIdempotencyStore(), time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), keyedRequest(http.MethodGet, "/api/v1/deliveries", "", ""))
	if !ran {
		t.Fatalf("expected pass-through")
	}
}
