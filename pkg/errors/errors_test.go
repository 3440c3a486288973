package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestEveryCodeHasMetadata(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound,
		CodeConflict, CodeStateConflict, CodeStaleVersion, CodeLockContended,
		CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency,
	}
	for _, code := range codes {
		if _, ok := metadataByCode[code]; !ok {
			t.Fatalf("code %s has no metadata", code)
		}
	}
}

func TestRetryableCodesMatchTransientFailures(t *testing.T) {
	want := map[Code]int{
		CodeStaleVersion:  http.StatusConflict,
		CodeLockContended: http.StatusConflict,
		CodeInternal:      http.StatusInternalServerError,
		CodeDependency:    http.StatusServiceUnavailable,
	}
	for code, meta := range metadataByCode {
		status, retryable := want[code]
		if meta.Retryable != retryable {
			t.Fatalf("code %s retryable = %v", code, meta.Retryable)
		}
		if retryable && meta.HTTPStatus != status {
			t.Fatalf("code %s status = %d, want %d", code, meta.HTTPStatus, status)
		}
	}
	if MetadataFor(CodeStateConflict).HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("state conflicts must map to 422")
	}
	if MetadataFor("NOPE") != MetadataFor(CodeInternal) {
		t.Fatalf("unknown codes should fall back to internal")
	}
}

func TestErrorFormattingAndDetails(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "load payout").WithDetails(map[string]any{"payout_id": "p1"})

	if !stdErrors.Is(err, cause) {
		t.Fatalf("Wrap lost cause")
	}
	if !strings.Contains(err.Error(), "connection refused") || !strings.HasPrefix(err.Error(), "DEPENDENCY_ERROR: load payout") {
		t.Fatalf("unexpected Error() %q", err.Error())
	}
	if err.Message() != "load payout" || err.Details() == nil {
		t.Fatalf("message/details not preserved")
	}

	plain := Newf(CodeValidation, "amount %d must be positive", -5)
	if plain.Error() != "VALIDATION_ERROR: amount -5 must be positive" {
		t.Fatalf("unexpected Error() %q", plain.Error())
	}

	var nilErr *Error
	if nilErr.Code() != CodeInternal || nilErr.Error() != "" || nilErr.WithDetails("x") != nil {
		t.Fatalf("nil *Error should be inert")
	}
}

func TestChainHelpers(t *testing.T) {
	stale := New(CodeStaleVersion, "delivery version moved")
	wrapped := fmt.Errorf("transition: %w", stale)

	if As(wrapped) != stale || As(nil) != nil {
		t.Fatalf("As did not find typed error")
	}
	if CodeOf(wrapped) != CodeStaleVersion || CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("CodeOf mismatch")
	}
	if !IsCode(wrapped, CodeStaleVersion) || IsCode(wrapped, CodeConflict) {
		t.Fatalf("IsCode mismatch")
	}
	if !IsRetryable(wrapped) || IsRetryable(New(CodeStateConflict, "edge")) || IsRetryable(stdErrors.New("plain")) {
		t.Fatalf("IsRetryable mismatch")
	}
}
