package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/internal/payouts"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type payoutSweeper interface {
	Sweep(ctx context.Context, now time.Time) (*payouts.SweepResult, error)
}

type PayoutSweepJobParams struct {
	Logger  *logger.Logger
	Payouts payoutSweeper
}

// NewPayoutSweepJob batches unclaimed commissions of the last closed period.
// Running it more often than the period is safe; already-batched providers
// are skipped.
func NewPayoutSweepJob(params PayoutSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	return &payoutSweepJob{
		logg: params.Logger,
		svc:  params.Payouts,
		now:  time.Now,
	}, nil
}

type payoutSweepJob struct {
	logg *logger.Logger
	svc  payoutSweeper
	now  func() time.Time
}

func (j *payoutSweepJob) Name() string { return "payout-sweep" }

func (j *payoutSweepJob) Run(ctx context.Context) error {
	result, err := j.svc.Sweep(ctx, j.now())
	if err != nil {
		return fmt.Errorf("payout sweep: %w", err)
	}
	if result != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"period_start": result.PeriodStart,
			"period_end":   result.PeriodEnd,
			"created":      result.Created,
		}), "payout sweep complete")
	}
	return nil
}
