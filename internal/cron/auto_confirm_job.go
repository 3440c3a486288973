package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/internal/confirmation"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type autoConfirmer interface {
	RunAutoConfirm(ctx context.Context, now time.Time) (confirmation.SweepResult, error)
}

type AutoConfirmJobParams struct {
	Logger       *logger.Logger
	Confirmation autoConfirmer
}

// NewAutoConfirmJob releases escrow for deliveries whose confirmation window closed.
func NewAutoConfirmJob(params AutoConfirmJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Confirmation == nil {
		return nil, fmt.Errorf("confirmation service required")
	}
	return &autoConfirmJob{
		logg: params.Logger,
		svc:  params.Confirmation,
		now:  time.Now,
	}, nil
}

type autoConfirmJob struct {
	logg *logger.Logger
	svc  autoConfirmer
	now  func() time.Time
}

func (j *autoConfirmJob) Name() string { return "auto-confirm" }

func (j *autoConfirmJob) Run(ctx context.Context) error {
	result, err := j.svc.RunAutoConfirm(ctx, j.now())
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"confirmed": result.Confirmed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("auto confirm: %w", err)
	}
	j.logg.Info(logCtx, "auto confirm pass complete")
	return nil
}
