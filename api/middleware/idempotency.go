package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/settlement-engine/api/responses"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	pkgredis "github.com/angelmondragon/settlement-engine/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255

	// Money-moving calls keep their replay record for a week.
	moneyMovementTTL = 7 * 24 * time.Hour
	// A reservation that outlives this is treated as abandoned.
	reservationLease = 2 * time.Minute
)

// IdempotencyStore persists reservations and replay records.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// idempotentRoute is a method plus a path template where "*" matches exactly
// one segment.
type idempotentRoute struct {
	method        string
	template      string
	moneyMovement bool
}

// First match wins.
var idempotentRoutes = []idempotentRoute{
	{http.MethodPost, "/api/v1/deliveries/*/confirm", true},
	{http.MethodPost, "/api/admin/v1/deliveries/*/dispute/resolve", true},
	{http.MethodPost, "/api/admin/v1/payouts/*/*", true},
	{http.MethodPost, "/api/admin/v1/commissions/*/adjustments", true},
	{http.MethodPost, "/api/admin/v1/payouts/sweep", false},
	{http.MethodPost, "/api/v1/deliveries/*/transition", false},
	{http.MethodPost, "/api/v1/deliveries/*/assign-partner", false},
	{http.MethodPost, "/api/v1/deliveries/*/timeout/suspend", false},
	{http.MethodPost, "/api/admin/v1/deliveries/*/assign-provider", false},
	{http.MethodPost, "/api/admin/v1/deliveries/*/force-advance", false},
	{http.MethodPost, "/api/admin/v1/deliveries/*/timeout/resume", false},
	{http.MethodPut, "/api/admin/v1/providers/*", false},
	{http.MethodPut, "/api/admin/v1/providers/*/members/*", false},
	{http.MethodPost, "/api/admin/v1/providers/*/stats/rollup", false},
	{http.MethodPost, "/api/admin/v1/outbox/dlq/*/requeue", false},
}

type recordState string

const (
	stateReserved  recordState = "reserved"
	stateCompleted recordState = "completed"
)

type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

// Idempotency makes the listed write routes safe to retry. The first request
// for a key reserves it, runs, and stores its response; later requests with the
// same key and body get that response back without running the handler again.
// 5xx responses are not stored so the client can retry with the same key.
func Idempotency(store IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := matchIdempotentRoute(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" || len(clientKey) > maxIdempotencyKey {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 255 characters)"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(body)
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			reserved, err := reserve(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, store, key, hash, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil {
					logError(ctx, logg, "release idempotency reservation", err)
				}
				return
			}

			record := idempotencyRecord{
				State:       stateCompleted,
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			if err := store.Set(ctx, key, string(payload), recordTTL(route, ttl)); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func reserve(ctx context.Context, store IdempotencyStore, key, hash string) (bool, error) {
	payload, err := json.Marshal(idempotencyRecord{State: stateReserved, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(payload), reservationLease)
}

func replayOrReject(ctx context.Context, store IdempotencyStore, key, hash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeLockContended, "idempotent request still settling, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != stateCompleted:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeLockContended, "request with this idempotency key is in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func matchIdempotentRoute(method, path string) (idempotentRoute, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, route := range idempotentRoutes {
		if route.method == method && templateMatches(route.template, segments) {
			return route, true
		}
	}
	return idempotentRoute{}, false
}

func templateMatches(template string, segments []string) bool {
	parts := strings.Split(strings.Trim(template, "/"), "/")
	if len(parts) != len(segments) {
		return false
	}
	for i, part := range parts {
		if segments[i] == "" {
			return false
		}
		if part != "*" && part != segments[i] {
			return false
		}
	}
	return true
}

func recordTTL(route idempotentRoute, ttl time.Duration) time.Duration {
	if route.moneyMovement && ttl < moneyMovementTTL {
		return moneyMovementTTL
	}
	if ttl <= 0 {
		return 24 * time.Hour
	}
	return ttl
}

// idempotencyScope keeps keys from colliding across callers and endpoints.
func idempotencyScope(r *http.Request) string {
	return strings.Join([]string{
		UserIDFromContext(r.Context()),
		r.Method,
		strings.TrimSuffix(r.URL.Path, "/"),
	}, "|")
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
