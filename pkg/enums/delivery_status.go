package enums

import "fmt"

// DeliveryStatus is the closed set of shipment states.
type DeliveryStatus string

const (
	DeliveryStatusPendingPickup   DeliveryStatus = "pending_pickup"
	DeliveryStatusPickupScheduled DeliveryStatus = "pickup_scheduled"
	DeliveryStatusPickedUp        DeliveryStatus = "picked_up"
	DeliveryStatusInTransit       DeliveryStatus = "in_transit"
	DeliveryStatusOutForDelivery  DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered       DeliveryStatus = "delivered"
	DeliveryStatusFailedDelivery  DeliveryStatus = "failed_delivery"
	DeliveryStatusReturned        DeliveryStatus = "returned"
	DeliveryStatusCancelled       DeliveryStatus = "cancelled"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPendingPickup,
	DeliveryStatusPickupScheduled,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusOutForDelivery,
	DeliveryStatusDelivered,
	DeliveryStatusFailedDelivery,
	DeliveryStatusReturned,
	DeliveryStatusCancelled,
}

// DeliveryStatuses returns every known status in lifecycle order.
func DeliveryStatuses() []DeliveryStatus {
	out := make([]DeliveryStatus, len(validDeliveryStatuses))
	copy(out, validDeliveryStatuses)
	return out
}

// String implements fmt.Stringer.
func (s DeliveryStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (s DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status transition is possible.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s.IsTerminalFailure()
}

// IsTerminalFailure reports whether the status ends the delivery without success.
func (s DeliveryStatus) IsTerminalFailure() bool {
	switch s {
	case DeliveryStatusFailedDelivery, DeliveryStatusReturned, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
