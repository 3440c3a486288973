package analytics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

func TestResolveRangeDefaultsToThirtyDays(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	start, end, err := resolveRange(httptest.NewRequest(http.MethodGet, "/x", nil), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !end.Equal(now) || end.Sub(start) != 30*day {
		t.Fatalf("unexpected default range %v..%v", start, end)
	}
}

func TestResolveRangeRejectsBadInput(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"unknown preset": "/x?preset=2w",
		"inverted":       "/x?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		"empty":          "/x?from=2026-01-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		"too wide":       "/x?from=2024-01-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		"bad timestamp":  "/x?from=yesterday&to=2026-01-01T00:00:00Z",
		"only to":        "/x?to=2026-01-01T00:00:00Z",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := resolveRange(httptest.NewRequest(http.MethodGet, target, nil), now)
			if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestResolveRangeNormalisesOffsetsToUTC(t *testing.T) {
	target := "/x?from=2026-01-01T02:00:00%2B02:00&to=2026-01-02T00:00:00Z"
	start, _, err := resolveRange(httptest.NewRequest(http.MethodGet, target, nil), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Location() != time.UTC || !start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
}
