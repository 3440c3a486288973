package validators

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

func TestParsePageQueryDefaultsAndBounds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/deliveries?cursor=%20abc%20", nil)
	page, err := ParsePageQuery(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Limit != pagination.DefaultLimit || page.Cursor != "abc" {
		t.Fatalf("unexpected page %+v", page)
	}

	r = httptest.NewRequest(http.MethodGet, "/deliveries?limit=1000", nil)
	if _, err := ParsePageQuery(r); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryEnum(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/deliveries?status=DELIVERED", nil)
	status, err := ParseQueryEnum(r, "status", enums.ParseDeliveryStatus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status == nil || *status != enums.DeliveryStatusDelivered {
		t.Fatalf("unexpected status %v", status)
	}

	r = httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	if status, err := ParseQueryEnum(r, "status", enums.ParseDeliveryStatus); err != nil || status != nil {
		t.Fatalf("expected nil filter, got %v %v", status, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/payouts?status=lost", nil)
	if _, err := ParseQueryEnum(r, "status", enums.ParsePayoutStatus); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  box\x00 crushed\r\non arrival \t", 0); got != "box crushed\non arrival" {
		t.Fatalf("unexpected sanitized value %q", got)
	}
	long := strings.Repeat("é", 10)
	if got := SanitizeString(long, 4); got != "éééé" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

type feeRequest struct {
	Reason string          `json:"reason" validate:"required,max=10"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
	Lines  []feeLine       `json:"lines" validate:"dive"`
}

type feeLine struct {
	Title string `json:"title" validate:"required"`
}

func decodeFee(t *testing.T, body string) (feeRequest, error) {
	t.Helper()
	var dst feeRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dst, DecodeJSONBody(req, &dst)
}

func validationDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := typed.Details().(map[string]string)
	return details
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decodeFee(t, `{"reason":"refund","amount":"12.50","lines":[{"title":"a"}]}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.5")) || got.Lines[0].Title != "a" {
		t.Fatalf("unexpected decode %+v", got)
	}
}

func TestDecodeJSONBodyReportsFieldsByJSONPath(t *testing.T) {
	_, err := decodeFee(t, `{"reason":"","amount":"-1","lines":[{"title":""}]}`)
	details := validationDetails(t, err)
	want := map[string]string{
		"reason":         "is required",
		"amount":         "must be at least 0",
		"lines[0].title": "is required",
	}
	for field, msg := range want {
		if details[field] != msg {
			t.Fatalf("%s: got %q want %q (all=%v)", field, details[field], msg, details)
		}
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"unknown field":  `{"reason":"x","extra":1}`,
		"trailing value": `{"reason":"x"} {"reason":"y"}`,
		"too large":      `{"reason":"` + strings.Repeat("x", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		if _, err := decodeFee(t, body); err == nil {
			t.Fatalf("%s: expected error", name)
		} else {
			validationDetails(t, err)
		}
	}
}
