package env

import "testing"

func TestGetFallsBackOnBlank(t *testing.T) {
	t.Setenv("SETTLEMENT_TEST_PORT", "  ")
	if got := Get("SETTLEMENT_TEST_PORT", "8080"); got != "8080" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("SETTLEMENT_TEST_PORT", " 9090 ")
	if got := Get("SETTLEMENT_TEST_PORT", "8080"); got != "9090" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}
