package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type providerLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	ListActive(ctx context.Context) ([]models.Provider, error)
	IsActiveStaff(ctx context.Context, tx *gorm.DB, providerID, userID uuid.UUID) (bool, error)
}

// Service computes provider settlement snapshots.
type Service interface {
	Rollup(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error)
	RollupAll(ctx context.Context) (int, error)
	Get(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error)
}

type service struct {
	repo      Repository
	providers providerLookup
	now       func() time.Time
}

func NewService(repo Repository, providers providerLookup) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stats repository required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider lookup required")
	}
	return &service{repo: repo, providers: providers, now: time.Now}, nil
}

func (s *service) Rollup(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may roll up provider stats")
	}
	if _, err := s.providers.Get(ctx, providerID); err != nil {
		return nil, err
	}
	return s.rollup(ctx, providerID)
}

// RollupAll refreshes every active provider and returns how many snapshots
// were written. Failures for one provider do not stop the others.
func (s *service) RollupAll(ctx context.Context) (int, error) {
	list, err := s.providers.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var (
		written int
		errs    error
	)
	for _, provider := range list {
		if err := ctx.Err(); err != nil {
			return written, multierr.Append(errs, err)
		}
		if _, err := s.rollup(ctx, provider.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("provider %s: %w", provider.ID, err))
			continue
		}
		written++
	}
	return written, errs
}

func (s *service) rollup(ctx context.Context, providerID uuid.UUID) (*models.ProviderStats, error) {
	counts, err := s.repo.CountByStatus(ctx, providerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count deliveries")
	}
	completed, err := s.repo.CompletedPayoutAmounts(ctx, providerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completed payouts")
	}
	open, err := s.repo.OpenPayoutAmounts(ctx, providerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open payouts")
	}
	unclaimed, err := s.repo.UnclaimedCommissionAmounts(ctx, providerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unclaimed commissions")
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	row := &models.ProviderStats{
		ProviderID:          providerID,
		StatusCounts:        counts,
		TotalDeliveries:     total,
		LifetimeEarnings:    sum(completed),
		UnclaimedCommission: sum(unclaimed),
		PendingPayoutTotal:  sum(open),
		ComputedAt:          s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store provider stats")
	}
	return row, nil
}

func (s *service) Get(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
	if !actor.IsAdmin() {
		if !actor.StaffOf(&providerID) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider stats not found")
		}
		active, err := s.providers.IsActiveStaff(ctx, nil, providerID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider stats not found")
		}
	}
	row, err := s.repo.Find(ctx, providerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load provider stats")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "provider stats not found")
	}
	return row, nil
}

func sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total.Round(2)
}
