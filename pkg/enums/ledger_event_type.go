package enums

import "slices"

// LedgerEventType enumerates the money movements the ledger records. Rows
// are append-only; corrections are new adjustment rows.
type LedgerEventType string

const (
	LedgerEventEscrowHeld           LedgerEventType = "escrow_held"
	LedgerEventEscrowReleased       LedgerEventType = "escrow_released"
	LedgerEventEscrowRefunded       LedgerEventType = "escrow_refunded"
	LedgerEventCommissionRecorded   LedgerEventType = "commission_recorded"
	LedgerEventCommissionAdjustment LedgerEventType = "commission_adjustment"
	LedgerEventPayoutCompleted      LedgerEventType = "payout_completed"
	LedgerEventPayoutClaimsReleased LedgerEventType = "payout_claims_released"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventEscrowHeld,
	LedgerEventEscrowReleased,
	LedgerEventEscrowRefunded,
	LedgerEventCommissionRecorded,
	LedgerEventCommissionAdjustment,
	LedgerEventPayoutCompleted,
	LedgerEventPayoutClaimsReleased,
}

// String implements fmt.Stringer.
func (l LedgerEventType) String() string {
	return string(l)
}

func (l LedgerEventType) IsValid() bool {
	return slices.Contains(validLedgerEventTypes, l)
}

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return parseEnum("ledger event type", value, validLedgerEventTypes)
}
