package deliveries

import (
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// successPath is the ordered happy path. Position in the slice is the
// lifecycle rank used to reject backward moves and detect skips.
var successPath = []enums.DeliveryStatus{
	enums.DeliveryStatusPendingPickup,
	enums.DeliveryStatusPickupScheduled,
	enums.DeliveryStatusPickedUp,
	enums.DeliveryStatusInTransit,
	enums.DeliveryStatusOutForDelivery,
	enums.DeliveryStatusDelivered,
}

var failureStates = []enums.DeliveryStatus{
	enums.DeliveryStatusFailedDelivery,
	enums.DeliveryStatusReturned,
	enums.DeliveryStatusCancelled,
}

// allowedEdges lists every single-step transition. Forward skips along the
// success path are not edges; they require a forced advance.
var allowedEdges = buildEdges()

func buildEdges() map[enums.DeliveryStatus]map[enums.DeliveryStatus]bool {
	edges := make(map[enums.DeliveryStatus]map[enums.DeliveryStatus]bool)
	for i, from := range successPath[:len(successPath)-1] {
		next := map[enums.DeliveryStatus]bool{successPath[i+1]: true}
		for _, failure := range failureStates {
			next[failure] = true
		}
		edges[from] = next
	}
	return edges
}

func rank(status enums.DeliveryStatus) int {
	for i, candidate := range successPath {
		if candidate == status {
			return i
		}
	}
	return -1
}

type moveKind int

const (
	moveInvalid moveKind = iota
	moveNoop
	moveStep
	moveSkip
	moveFailure
)

// classify decides how from → to relates to the edge table.
func classify(from, to enums.DeliveryStatus) moveKind {
	if from == to {
		return moveNoop
	}
	if from.IsTerminal() || !to.IsValid() {
		return moveInvalid
	}
	if allowedEdges[from][to] {
		if to.IsTerminalFailure() {
			return moveFailure
		}
		return moveStep
	}
	fromRank, toRank := rank(from), rank(to)
	if fromRank >= 0 && toRank > fromRank+1 {
		return moveSkip
	}
	return moveInvalid
}

// requiresProvider reports whether a delivery must have an assigned provider
// before entering status.
func requiresProvider(status enums.DeliveryStatus) bool {
	return rank(status) >= rank(enums.DeliveryStatusPickedUp)
}

// ValidWalk reports whether statuses, as recorded in history, form a legal
// sequence. Forced skips are accepted when forced reports true for that step.
func ValidWalk(statuses []enums.DeliveryStatus, forced func(i int) bool) bool {
	for i := 1; i < len(statuses); i++ {
		switch classify(statuses[i-1], statuses[i]) {
		case moveStep, moveFailure:
		case moveSkip:
			if forced == nil || !forced(i) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
