package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/internal/ledger"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type lockStore interface {
	redis.LockStore
	LockKey(parts ...string) string
}

type staffChecker interface {
	IsActiveStaff(ctx context.Context, tx *gorm.DB, providerID, userID uuid.UUID) (bool, error)
}

// Service batches claimed commissions into provider payouts and drives the
// payout lifecycle.
type Service interface {
	Sweep(ctx context.Context, now time.Time) (*SweepResult, error)
	SweepProvider(ctx context.Context, providerID uuid.UUID, periodStart, periodEnd time.Time) (*models.Payout, error)
	Process(ctx context.Context, input ProcessInput) (*models.Payout, error)
	Complete(ctx context.Context, input CompleteInput) (*models.Payout, error)
	Fail(ctx context.Context, input FailInput) (*models.Payout, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Payout, error)
	ReleaseClaims(ctx context.Context, input ReleaseClaimsInput) (*ReleaseClaimsResult, error)
	ApplyCallback(ctx context.Context, input CallbackInput) (*models.Payout, error)
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Payout, error)
	List(ctx context.Context, params ListParams) (*pagination.Page[models.Payout], error)
}

type Config struct {
	Period  time.Duration
	LockTTL time.Duration
}

// SweepResult summarizes one sweep across providers.
type SweepResult struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Providers   int
	Created     int
	Skipped     int
	Failed      int
}

type ProcessInput struct {
	PayoutID  uuid.UUID
	Method    enums.PaymentMethod
	Reference string
	Actor     auth.Actor
}

type CompleteInput struct {
	PayoutID  uuid.UUID
	Reference string
	Actor     auth.Actor
}

type FailInput struct {
	PayoutID uuid.UUID
	Reason   string
	Actor    auth.Actor
}

type CancelInput struct {
	PayoutID uuid.UUID
	Reason   string
	Actor    auth.Actor
}

type ReleaseClaimsInput struct {
	PayoutID uuid.UUID
	Actor    auth.Actor
}

// ReleaseClaimsResult reports how many commissions went back to the unclaimed pool.
type ReleaseClaimsResult struct {
	Payout          *models.Payout
	Released        int
	AlreadyReleased bool
}

type ListParams struct {
	Actor      auth.Actor
	ProviderID *uuid.UUID
	Status     *enums.PayoutStatus
	Cursor     string
	Limit      int
}

var errNothingToClaim = pkgerrors.New(pkgerrors.CodeStateConflict, "no unclaimed commissions for period")

type service struct {
	repo        Repository
	commissions commission.Repository
	ledger      ledger.Service
	tx          txRunner
	outbox      outboxPublisher
	locks       lockStore
	staff       staffChecker
	metrics     *metrics.SettlementMetrics
	cfg         Config
	logg        *logger.Logger
}

func NewService(
	repo Repository,
	commissions commission.Repository,
	ledgerSvc ledger.Service,
	tx txRunner,
	outbox outboxPublisher,
	locks lockStore,
	staff staffChecker,
	m *metrics.SettlementMetrics,
	cfg Config,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if commissions == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if staff == nil {
		return nil, fmt.Errorf("staff checker required")
	}
	if cfg.Period < time.Hour {
		return nil, fmt.Errorf("payout period must be at least 1h")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:        repo,
		commissions: commissions,
		ledger:      ledgerSvc,
		tx:          tx,
		outbox:      outbox,
		locks:       locks,
		staff:       staff,
		metrics:     m,
		cfg:         cfg,
		logg:        logg,
	}, nil
}

// PeriodFor returns the closed period preceding now. Periods are aligned on
// multiples of period since the zero time, so weekly periods start on Monday.
func PeriodFor(now time.Time, period time.Duration) (time.Time, time.Time) {
	end := now.UTC().Truncate(period)
	return end.Add(-period), end
}

func (s *service) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	start, end := PeriodFor(now, s.cfg.Period)
	result := &SweepResult{PeriodStart: start, PeriodEnd: end}

	providerIDs, err := s.commissions.ProvidersWithUnclaimed(ctx, end)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list providers with unclaimed commissions")
	}
	result.Providers = len(providerIDs)

	var errs error
	for _, providerID := range providerIDs {
		if err := ctx.Err(); err != nil {
			return result, multierr.Append(errs, err)
		}
		payout, err := s.SweepProvider(ctx, providerID, start, end)
		switch {
		case err == nil:
			result.Created++
			s.logg.Info(s.logg.WithPayoutID(ctx, payout.ID.String()), "payout created")
		case pkgerrors.IsCode(err, pkgerrors.CodeLockContended),
			pkgerrors.IsCode(err, pkgerrors.CodeConflict),
			errors.Is(err, errNothingToClaim):
			result.Skipped++
		default:
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("provider %s: %w", providerID, err))
			s.logg.Error(s.logg.WithField(ctx, "provider_id", providerID.String()), "payout sweep failed", err)
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"period_start": start,
		"period_end":   end,
		"providers":    result.Providers,
		"created":      result.Created,
		"skipped":      result.Skipped,
		"failed":       result.Failed,
	}), "payout sweep finished")
	return result, errs
}

// SweepProvider creates the provider's payout for the period and claims its
// unclaimed commissions in one transaction. The Redis lock keeps a single
// writer per provider and period; the partial unique index on payouts backs
// it up when the lock expires mid-sweep.
func (s *service) SweepProvider(ctx context.Context, providerID uuid.UUID, periodStart, periodEnd time.Time) (*models.Payout, error) {
	key := s.locks.LockKey("payout-sweep", providerID.String(),
		periodStart.UTC().Format(time.RFC3339), periodEnd.UTC().Format(time.RFC3339))
	lock, err := redis.NewLock(s.locks, key, s.cfg.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payout lock")
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire payout lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeLockContended, "payout sweep already running for provider")
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "lock_key", key), "release payout lock: "+err.Error())
		}
	}()

	var payout *models.Payout
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row := &models.Payout{
			ID:          uuid.New(),
			ProviderID:  providerID,
			PeriodStart: periodStart.UTC(),
			PeriodEnd:   periodEnd.UTC(),
			Amount:      decimal.Zero,
			Status:      enums.PayoutStatusPending,
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "ux_payouts_provider_period", "payouts.provider_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "payout already exists for period")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payout")
		}

		claimed, err := s.commissions.WithTx(tx).Claim(ctx, providerID, periodEnd.UTC(), row.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim commissions")
		}
		if len(claimed) == 0 {
			return errNothingToClaim
		}

		total := decimal.Zero
		for _, c := range claimed {
			total = total.Add(c.Amount)
		}
		if err := repo.UpdateTotals(ctx, row.ID, total, len(claimed)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout totals")
		}
		row.Amount = total
		row.DeliveryCount = len(claimed)

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCreated,
			AggregateType: enums.AggregatePayout,
			AggregateID:   row.ID,
			Actor:         auth.SystemActor().Ref(),
			Data: payloads.PayoutCreatedEvent{
				PayoutID:      row.ID,
				ProviderID:    row.ProviderID,
				PeriodStart:   row.PeriodStart,
				PeriodEnd:     row.PeriodEnd,
				DeliveryCount: row.DeliveryCount,
				Amount:        row.Amount,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout created")
		}
		payout = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePayout(payout.DeliveryCount, payout.Amount)
	return payout, nil
}

func (s *service) Process(ctx context.Context, input ProcessInput) (*models.Payout, error) {
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	now := time.Now().UTC()
	updates := map[string]any{
		"status":         enums.PayoutStatusProcessing,
		"payment_method": input.Method.String(),
		"processed_at":   now,
	}
	if input.Reference != "" {
		updates["payment_reference"] = input.Reference
	}
	return s.move(ctx, moveRequest{
		payoutID: input.PayoutID,
		actor:    input.Actor,
		to:       enums.PayoutStatusProcessing,
		from:     []enums.PayoutStatus{enums.PayoutStatusPending},
		updates:  updates,
	})
}

func (s *service) Complete(ctx context.Context, input CompleteInput) (*models.Payout, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       enums.PayoutStatusCompleted,
		"completed_at": now,
	}
	if input.Reference != "" {
		updates["payment_reference"] = input.Reference
	}
	return s.move(ctx, moveRequest{
		payoutID: input.PayoutID,
		actor:    input.Actor,
		to:       enums.PayoutStatusCompleted,
		from:     []enums.PayoutStatus{enums.PayoutStatusProcessing},
		updates:  updates,
		after: func(ctx context.Context, tx *gorm.DB, payout *models.Payout) error {
			if payout.PaymentReference == nil && payout.PaymentMethod != nil &&
				enums.PaymentMethod(*payout.PaymentMethod).RequiresReference() {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("payment reference required to complete a %s payout", *payout.PaymentMethod))
			}
			var note *string
			if input.Reference != "" {
				note = &input.Reference
			}
			_, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
				Type:        enums.LedgerEventPayoutCompleted,
				ProviderID:  &payout.ProviderID,
				PayoutID:    &payout.ID,
				ActorUserID: input.Actor.UserIDPtr(),
				Amount:      payout.Amount,
				Note:        note,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout completion")
			}
			return nil
		},
	})
}

func (s *service) Fail(ctx context.Context, input FailInput) (*models.Payout, error) {
	return s.fail(ctx, input, []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing})
}

func (s *service) fail(ctx context.Context, input FailInput, from []enums.PayoutStatus) (*models.Payout, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason required")
	}
	return s.move(ctx, moveRequest{
		payoutID: input.PayoutID,
		actor:    input.Actor,
		to:       enums.PayoutStatusFailed,
		from:     from,
		reason:   &input.Reason,
		updates: map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failure_reason": input.Reason,
			"failed_at":      time.Now().UTC(),
		},
	})
}

// Cancel stops a payout without touching its claims. ReleaseClaims returns
// them to the pool separately.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Payout, error) {
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason required")
	}
	return s.move(ctx, moveRequest{
		payoutID: input.PayoutID,
		actor:    input.Actor,
		to:       enums.PayoutStatusCancelled,
		from:     []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusProcessing},
		reason:   &input.Reason,
		updates: map[string]any{
			"status":        enums.PayoutStatusCancelled,
			"cancel_reason": input.Reason,
			"cancelled_at":  time.Now().UTC(),
		},
	})
}

type moveRequest struct {
	payoutID uuid.UUID
	actor    auth.Actor
	to       enums.PayoutStatus
	from     []enums.PayoutStatus
	updates  map[string]any
	reason   *string
	after    func(ctx context.Context, tx *gorm.DB, payout *models.Payout) error
}

// move applies one payout status change under a row lock. Repeating a move
// onto the status the payout already has returns it unchanged.
func (s *service) move(ctx context.Context, req moveRequest) (*models.Payout, error) {
	if !req.actor.IsAdmin() && !req.actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may change payouts")
	}
	if req.payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}

	var out *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindByIDForUpdate(ctx, req.payoutID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
		}
		if payout == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		if payout.Status == req.to {
			out = payout
			return nil
		}
		if !containsStatus(req.from, payout.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("payout cannot move from %s to %s", payout.Status, req.to))
		}

		from := payout.Status
		ok, err := repo.UpdateStatus(ctx, payout.ID, req.from, req.updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStaleVersion, "payout changed concurrently")
		}
		payout, err = repo.FindByID(ctx, payout.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payout")
		}

		if req.after != nil {
			if err := req.after(ctx, tx, payout); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutStatusChanged,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Actor:         req.actor.Ref(),
			Data: payloads.PayoutStatusChangedEvent{
				PayoutID:   payout.ID,
				ProviderID: payout.ProviderID,
				FromStatus: from,
				ToStatus:   payout.Status,
				Amount:     payout.Amount,
				Reason:     req.reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout status changed")
		}
		out = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseClaims detaches the commissions of a cancelled or failed payout so
// the next sweep batches them again. It runs at most once per payout.
func (s *service) ReleaseClaims(ctx context.Context, input ReleaseClaimsInput) (*ReleaseClaimsResult, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may release payout claims")
	}

	result := &ReleaseClaimsResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payout, err := repo.FindByIDForUpdate(ctx, input.PayoutID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
		}
		if payout == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		result.Payout = payout
		if payout.Status != enums.PayoutStatusCancelled && payout.Status != enums.PayoutStatusFailed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only cancelled or failed payouts can release claims")
		}
		if payout.ClaimsReleasedAt != nil {
			result.AlreadyReleased = true
			return nil
		}

		now := time.Now().UTC()
		ok, err := repo.MarkClaimsReleased(ctx, payout.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark claims released")
		}
		if !ok {
			result.AlreadyReleased = true
			return nil
		}

		commissions := s.commissions.WithTx(tx)
		claimed, err := commissions.ListByPayout(ctx, payout.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list claimed commissions")
		}
		if _, err := commissions.Unclaim(ctx, payout.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unclaim commissions")
		}
		note := fmt.Sprintf("claims released from %s payout", payout.Status)
		for i := range claimed {
			row := claimed[i]
			if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
				Type:         enums.LedgerEventPayoutClaimsReleased,
				DeliveryID:   &row.DeliveryID,
				ProviderID:   &row.ProviderID,
				CommissionID: &row.ID,
				PayoutID:     &payout.ID,
				ActorUserID:  input.Actor.UserIDPtr(),
				Amount:       row.Amount,
				Note:         &note,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record claim release")
			}
		}
		result.Released = len(claimed)
		payout.ClaimsReleasedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
	}
	if payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	visible, err := s.canView(ctx, actor, payout.ProviderID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	return payout, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*pagination.Page[models.Payout], error) {
	providerID := params.ProviderID
	switch {
	case params.Actor.IsAdmin():
	case params.Actor.Role == enums.ActorRoleProviderStaff && params.Actor.ProviderID != nil:
		if providerID != nil && *providerID != *params.Actor.ProviderID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff may only list their provider's payouts")
		}
		visible, err := s.canView(ctx, params.Actor, *params.Actor.ProviderID)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff membership is not active")
		}
		providerID = params.Actor.ProviderID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payout listing not allowed")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout status")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, ListQuery{
		ProviderID: providerID,
		Status:     params.Status,
		Cursor:     cursor,
		Limit:      params.Limit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	page := pagination.BuildPage(rows, params.Limit, func(p models.Payout) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return &page, nil
}

// canView admits admins and staff whose membership of the provider is still
// active; the token claim alone is not enough.
func (s *service) canView(ctx context.Context, actor auth.Actor, providerID uuid.UUID) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	if !actor.StaffOf(&providerID) {
		return false, nil
	}
	return s.staff.IsActiveStaff(ctx, nil, providerID, actor.UserID)
}

func containsStatus(list []enums.PayoutStatus, status enums.PayoutStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
