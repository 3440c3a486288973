package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

const autoConfirmCursor = "auto-confirm"

// SweepResult summarizes one auto-confirm pass.
type SweepResult struct {
	Scanned   int
	Confirmed int
	Skipped   int
	Failed    int
}

// RunAutoConfirm releases every delivery whose confirmation deadline has
// passed. It pages by (auto_confirm_at, id) and persists the cursor after
// each batch so a crashed or cancelled run resumes where it stopped. Per-row
// failures are collected and do not stop the pass.
func (s *service) RunAutoConfirm(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	now = now.UTC()
	if err := ctx.Err(); err != nil {
		return result, err
	}

	cursor, err := s.cursors.Load(ctx, autoConfirmCursor)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load auto-confirm cursor")
	}

	var errs error
	for {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		rows, err := s.repo.ListAutoConfirmDue(ctx, now, cursor, s.cfg.BatchSize)
		if err != nil {
			return result, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list auto-confirm candidates"))
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return result, multierr.Append(errs, err)
			}
			result.Scanned++
			confirmed, err := s.autoConfirmOne(ctx, row, now)
			switch {
			case err != nil:
				result.Failed++
				errs = multierr.Append(errs, fmt.Errorf("auto-confirm delivery %s: %w", row.ID, err))
				logCtx := s.logg.WithDeliveryID(ctx, row.ID.String())
				s.logg.Error(logCtx, "auto-confirm failed", err)
			case confirmed:
				result.Confirmed++
			default:
				result.Skipped++
			}
			cursor = &pagination.Cursor{CreatedAt: *row.AutoConfirmAt, ID: row.ID}
		}

		if len(rows) < s.cfg.BatchSize {
			cursor = nil
		}
		if err := s.cursors.Save(ctx, autoConfirmCursor, cursor); err != nil {
			return result, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save auto-confirm cursor"))
		}
		if cursor == nil {
			break
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"confirmed": result.Confirmed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	s.logg.Info(logCtx, "auto-confirm sweep complete")
	return result, errs
}

// autoConfirmOne re-checks the candidate under lock, since a buyer or a
// dispute may have moved it after the listing.
func (s *service) autoConfirmOne(ctx context.Context, candidate models.Delivery, now time.Time) (bool, error) {
	res, err := s.confirm(ctx, confirmRequest{
		deliveryID: candidate.ID,
		trigger:    enums.ReleaseTriggerTimeout,
		kind:       enums.DeliveryEventAutoConfirmed,
		actor:      auth.SystemActor(),
		check: func(d *models.Delivery) error {
			if d.BuyerConfirmed {
				return nil
			}
			if d.TimeoutSuspended || d.AutoConfirmAt == nil || d.AutoConfirmAt.After(now) {
				return errNotDue
			}
			return nil
		},
	})
	if errors.Is(err, errNotDue) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !res.AlreadyConfirmed, nil
}

var errNotDue = pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is no longer due for auto-confirmation")
