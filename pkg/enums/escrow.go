package enums

import "fmt"

// EscrowStatus tracks a hold of buyer funds.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusHeld,
	EscrowStatusReleased,
	EscrowStatusRefunded,
}

// String implements fmt.Stringer.
func (s EscrowStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EscrowStatus.
func (s EscrowStatus) IsValid() bool {
	for _, candidate := range validEscrowStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEscrowStatus converts raw input into an EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	for _, candidate := range validEscrowStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow status %q", value)
}

// ReleaseTrigger records why escrowed funds were released.
type ReleaseTrigger string

const (
	ReleaseTriggerBuyerConfirmed  ReleaseTrigger = "buyer_confirmed"
	ReleaseTriggerTimeout         ReleaseTrigger = "timeout"
	ReleaseTriggerDisputeResolved ReleaseTrigger = "dispute_resolved"
)

var validReleaseTriggers = []ReleaseTrigger{
	ReleaseTriggerBuyerConfirmed,
	ReleaseTriggerTimeout,
	ReleaseTriggerDisputeResolved,
}

// String implements fmt.Stringer.
func (r ReleaseTrigger) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReleaseTrigger.
func (r ReleaseTrigger) IsValid() bool {
	for _, candidate := range validReleaseTriggers {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReleaseTrigger converts raw input into a ReleaseTrigger.
func ParseReleaseTrigger(value string) (ReleaseTrigger, error) {
	for _, candidate := range validReleaseTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid release trigger %q", value)
}
