package enums

import "fmt"

// DeliveryEventKind distinguishes entries in the delivery history log.
type DeliveryEventKind string

const (
	DeliveryEventStatusTransition DeliveryEventKind = "status_transition"
	DeliveryEventForcedTransition DeliveryEventKind = "forced_transition"
	DeliveryEventProviderAssigned DeliveryEventKind = "provider_assigned"
	DeliveryEventPartnerAssigned  DeliveryEventKind = "partner_assigned"
	DeliveryEventBuyerConfirmed   DeliveryEventKind = "buyer_confirmed"
	DeliveryEventAutoConfirmed    DeliveryEventKind = "auto_confirmed"
	DeliveryEventDisputeConfirmed DeliveryEventKind = "dispute_confirmed"
	DeliveryEventDisputeRefunded  DeliveryEventKind = "dispute_refunded"
	DeliveryEventTimeoutSuspended DeliveryEventKind = "timeout_suspended"
	DeliveryEventTimeoutResumed   DeliveryEventKind = "timeout_resumed"
)

var validDeliveryEventKinds = []DeliveryEventKind{
	DeliveryEventStatusTransition,
	DeliveryEventForcedTransition,
	DeliveryEventProviderAssigned,
	DeliveryEventPartnerAssigned,
	DeliveryEventBuyerConfirmed,
	DeliveryEventAutoConfirmed,
	DeliveryEventDisputeConfirmed,
	DeliveryEventDisputeRefunded,
	DeliveryEventTimeoutSuspended,
	DeliveryEventTimeoutResumed,
}

// String implements fmt.Stringer.
func (k DeliveryEventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known DeliveryEventKind.
func (k DeliveryEventKind) IsValid() bool {
	for _, candidate := range validDeliveryEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ChangesStatus reports whether events of this kind move currentStatus.
func (k DeliveryEventKind) ChangesStatus() bool {
	return k == DeliveryEventStatusTransition || k == DeliveryEventForcedTransition
}

// ParseDeliveryEventKind converts raw input into a DeliveryEventKind.
func ParseDeliveryEventKind(value string) (DeliveryEventKind, error) {
	for _, candidate := range validDeliveryEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery event kind %q", value)
}
