package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultPurgeBatchSize  = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPurger interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type deadLetterPurger interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configures the purge. DLQ and DLQRetention are
// optional; without them dead letters are kept forever.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repository   publishedPurger
	DLQ          deadLetterPurger
	Retention    time.Duration
	DLQRetention time.Duration
	BatchSize    int
}

// NewOutboxRetentionJob purges relayed outbox rows past the retention window
// in bounded batches, one transaction each, so a large backlog never holds a
// long lock on the table.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		published:    params.Repository,
		deadLetters:  params.DLQ,
		retention:    params.Retention,
		dlqRetention: params.DLQRetention,
		batchSize:    params.BatchSize,
		now:          time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultPurgeBatchSize
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	published    publishedPurger
	deadLetters  deadLetterPurger
	retention    time.Duration
	dlqRetention time.Duration
	batchSize    int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)

	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.published.DeletePublishedBefore(tx, cutoff, j.batchSize)
			batch = n
			return err
		})
		if err != nil {
			return fmt.Errorf("purge published outbox rows: %w", err)
		}
		deleted += batch
		if batch < int64(j.batchSize) {
			break
		}
	}

	fields := map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	}
	if j.deadLetters != nil && j.dlqRetention > 0 {
		dlqCutoff := now.Add(-j.dlqRetention)
		var purged int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.deadLetters.DeleteFailedBefore(tx, dlqCutoff)
			purged = n
			return err
		})
		if err != nil {
			return fmt.Errorf("purge outbox dead letters: %w", err)
		}
		fields["dlq_cutoff"] = dlqCutoff
		fields["dlq_rows_deleted"] = purged
	}

	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return nil
}
