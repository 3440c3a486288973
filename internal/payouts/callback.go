package payouts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// CallbackStatus is the outcome reported by the payment operator.
type CallbackStatus string

const (
	CallbackCompleted CallbackStatus = "completed"
	CallbackFailed    CallbackStatus = "failed"
)

// CallbackInput is a verified payment operator notification.
type CallbackInput struct {
	PayoutID  uuid.UUID      `json:"payout_id"`
	Status    CallbackStatus `json:"status"`
	Reference string         `json:"reference"`
	Reason    string         `json:"reason"`
}

// ApplyCallback settles a PROCESSING payout from the operator's report.
// Replays of an already applied outcome return the payout unchanged.
func (s *service) ApplyCallback(ctx context.Context, input CallbackInput) (*models.Payout, error) {
	if input.PayoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	actor := auth.SystemActor()
	switch input.Status {
	case CallbackCompleted:
		return s.Complete(ctx, CompleteInput{
			PayoutID:  input.PayoutID,
			Reference: input.Reference,
			Actor:     actor,
		})
	case CallbackFailed:
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			reason = "payment operator reported failure"
		}
		return s.fail(ctx, FailInput{
			PayoutID: input.PayoutID,
			Reason:   reason,
			Actor:    actor,
		}, []enums.PayoutStatus{enums.PayoutStatusProcessing})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown callback status")
	}
}
