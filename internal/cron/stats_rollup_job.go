package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type statsRoller interface {
	RollupAll(ctx context.Context) (int, error)
}

type StatsRollupJobParams struct {
	Logger *logger.Logger
	Stats  statsRoller
}

func NewStatsRollupJob(params StatsRollupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Stats == nil {
		return nil, fmt.Errorf("stats service required")
	}
	return &statsRollupJob{logg: params.Logger, svc: params.Stats}, nil
}

type statsRollupJob struct {
	logg *logger.Logger
	svc  statsRoller
}

func (j *statsRollupJob) Name() string { return "provider-stats-rollup" }

func (j *statsRollupJob) Run(ctx context.Context) error {
	refreshed, err := j.svc.RollupAll(ctx)
	logCtx := j.logg.WithField(ctx, "providers_refreshed", refreshed)
	if err != nil {
		return fmt.Errorf("stats rollup: %w", err)
	}
	j.logg.Info(logCtx, "provider stats rollup complete")
	return nil
}
