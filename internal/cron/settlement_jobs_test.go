package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/settlement-engine/internal/confirmation"
	"github.com/angelmondragon/settlement-engine/internal/payouts"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type fakeConfirmer struct {
	at     time.Time
	result confirmation.SweepResult
	err    error
}

func (f *fakeConfirmer) RunAutoConfirm(_ context.Context, now time.Time) (confirmation.SweepResult, error) {
	f.at = now
	return f.result, f.err
}

type fakeSweeper struct {
	at  time.Time
	err error
}

func (f *fakeSweeper) Sweep(_ context.Context, now time.Time) (*payouts.SweepResult, error) {
	f.at = now
	if f.err != nil {
		return nil, f.err
	}
	return &payouts.SweepResult{Created: 2}, nil
}

type fakeRoller struct {
	calls int
	err   error
}

func (f *fakeRoller) RollupAll(context.Context) (int, error) {
	f.calls++
	return 3, f.err
}

func TestJobConstructorsRequireDeps(t *testing.T) {
	if _, err := NewAutoConfirmJob(AutoConfirmJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without confirmation service")
	}
	if _, err := NewPayoutSweepJob(PayoutSweepJobParams{Payouts: &fakeSweeper{}}); err == nil {
		t.Fatal("expected error without logger")
	}
	if _, err := NewStatsRollupJob(StatsRollupJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without stats service")
	}
}

func TestAutoConfirmJobPassesClock(t *testing.T) {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	svc := &fakeConfirmer{result: confirmation.SweepResult{Scanned: 4, Confirmed: 3, Skipped: 1}}
	jobIface, err := NewAutoConfirmJob(AutoConfirmJobParams{Logger: logger.Nop(), Confirmation: svc})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	job := jobIface.(*autoConfirmJob)
	job.now = func() time.Time { return now }

	if job.Name() != "auto-confirm" {
		t.Fatalf("unexpected name %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !svc.at.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, svc.at)
	}

	svc.err = errors.New("db down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error to surface")
	}
}

func TestPayoutSweepJob(t *testing.T) {
	now := time.Date(2026, 9, 7, 0, 5, 0, 0, time.UTC)
	svc := &fakeSweeper{}
	jobIface, err := NewPayoutSweepJob(PayoutSweepJobParams{Logger: logger.Nop(), Payouts: svc})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	job := jobIface.(*payoutSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !svc.at.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, svc.at)
	}

	svc.err = errors.New("partial failure")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error to surface")
	}
}

func TestStatsRollupJob(t *testing.T) {
	svc := &fakeRoller{}
	job, err := NewStatsRollupJob(StatsRollupJobParams{Logger: logger.Nop(), Stats: svc})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	svc.err = errors.New("one provider failed")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error to surface")
	}
	if svc.calls != 2 {
		t.Fatalf("expected two rollups, got %d", svc.calls)
	}
}
