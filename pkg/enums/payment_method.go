package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod is the rail a provider payout is disbursed on.
type PaymentMethod string

const (
	PaymentMethodACH    PaymentMethod = "ach"
	PaymentMethodWire   PaymentMethod = "wire"
	PaymentMethodCheck  PaymentMethod = "check"
	PaymentMethodManual PaymentMethod = "manual"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodACH,
	PaymentMethodWire,
	PaymentMethodCheck,
	PaymentMethodManual,
}

func (p PaymentMethod) String() string {
	return string(p)
}

func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// RequiresReference reports whether the rail issues a trace or check number
// that must be on file before a payout can complete.
func (p PaymentMethod) RequiresReference() bool {
	return p == PaymentMethodACH || p == PaymentMethodWire || p == PaymentMethodCheck
}

// ParsePaymentMethod converts raw input into a PaymentMethod, ignoring case.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
