package commission

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const amountPlaces = 2

var hundred = decimal.NewFromInt(100)

// Policy is the provider commission policy captured at release time.
type Policy struct {
	Type enums.CommissionType
	Rate decimal.Decimal
}

// Validate rejects policies that cannot produce a sane amount.
func (p Policy) Validate() error {
	if !p.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid commission type")
	}
	if p.Rate.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission rate must not be negative")
	}
	if p.Type == enums.CommissionTypePercentage && p.Rate.GreaterThan(hundred) {
		return pkgerrors.New(pkgerrors.CodeValidation, "percentage rate must not exceed 100")
	}
	return nil
}

// Calculate derives the partner commission for a delivery fee.
//
// PERCENTAGE rounds fee*rate/100 half away from zero at two places, so
// 12.345 becomes 12.35. FIXED pays the rate but never more than the fee.
func Calculate(fee decimal.Decimal, policy Policy) (decimal.Decimal, error) {
	if err := policy.Validate(); err != nil {
		return decimal.Zero, err
	}
	if fee.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "delivery fee must not be negative")
	}

	switch policy.Type {
	case enums.CommissionTypePercentage:
		return fee.Mul(policy.Rate).Div(hundred).Round(amountPlaces), nil
	default:
		return decimal.Min(policy.Rate, fee).Round(amountPlaces), nil
	}
}
