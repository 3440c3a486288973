package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var body types.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return body.Error
}

func TestWriteCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteCreated(rec, map[string]string{"status": "recorded"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["status"] != "recorded" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorEchoesStateConflictAndRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := WithRequestID(context.Background(), "req-42")
	err := pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is not awaiting confirmation").
		WithDetails(map[string]any{"status": "in_transit"})

	WriteError(ctx, logger.Nop(), rec, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Message != "delivery is not awaiting confirmation" {
		t.Fatalf("unexpected message %q", got.Message)
	}
	if got.RequestID != "req-42" {
		t.Fatalf("unexpected request id %q", got.RequestID)
	}
	if got.Retryable || got.Details == nil {
		t.Fatalf("unexpected envelope %+v", got)
	}
}

func TestWriteErrorMarksStaleVersionRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeStaleVersion, "delivery changed, reload and retry"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if got := decodeError(t, rec); !got.Retryable {
		t.Fatalf("stale version must be retryable")
	}
}

func TestWriteErrorKeepsExistingRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Retry-After", "30")
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeLockContended, "sweep running"))

	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected existing header kept, got %q", rec.Header().Get("Retry-After"))
	}
	if got := decodeError(t, rec); got.Message != "operation already in progress" {
		t.Fatalf("lock contention message must stay generic, got %q", got.Message)
	}
}

func TestWriteErrorClassifiesRawPostgresErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	raw := &pgconn.PgError{Code: pkgerrors.SQLStateSerializationFailure, Message: "could not serialize access"}
	WriteError(context.Background(), nil, rec, raw)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != string(pkgerrors.CodeStaleVersion) {
		t.Fatalf("unexpected code %s", got.Code)
	}
}

func TestWriteErrorHidesUntypedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, errors.New("escrow table exploded"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != string(pkgerrors.CodeInternal) || got.Message != "internal server error" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if got.Details != nil {
		t.Fatalf("details should be omitted for internal errors")
	}
}
