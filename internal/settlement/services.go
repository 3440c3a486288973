// Package settlement assembles the delivery, escrow, commission and payout
// services over one database connection so every binary shares the same graph.
package settlement

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/internal/confirmation"
	"github.com/angelmondragon/settlement-engine/internal/deliveries"
	"github.com/angelmondragon/settlement-engine/internal/escrow"
	"github.com/angelmondragon/settlement-engine/internal/ledger"
	"github.com/angelmondragon/settlement-engine/internal/orderintake"
	"github.com/angelmondragon/settlement-engine/internal/payouts"
	"github.com/angelmondragon/settlement-engine/internal/providers"
	"github.com/angelmondragon/settlement-engine/internal/stats"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	Metrics *metrics.SettlementMetrics
}

// Services is the wired service graph.
type Services struct {
	Outbox       *outbox.Service
	DLQ          *outbox.DLQRepository
	Ledger       ledger.Service
	Providers    providers.Service
	Commission   commission.Service
	Escrow       escrow.Service
	Confirmation confirmation.Service
	Deliveries   deliveries.Service
	Payouts      payouts.Service
	Stats        stats.Service
	Intake       orderintake.Service
}

func New(params Params) (*Services, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}

	cfg := params.Config.Settlement
	conn := params.DB.DB()
	publisher := outbox.NewService(outbox.NewRepository(conn), params.Logger)
	retryPolicy := deliveries.RetryPolicy{
		MaxRetries: cfg.StaleVersionMaxRetries,
		Backoff:    cfg.StaleVersionRetryBackoff,
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	providerSvc, err := providers.NewService(providers.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("provider service: %w", err)
	}
	commissionRepo := commission.NewRepository(conn)
	commissionSvc, err := commission.NewService(commissionRepo, params.DB, ledgerSvc, publisher)
	if err != nil {
		return nil, fmt.Errorf("commission service: %w", err)
	}
	escrowSvc, err := escrow.NewService(escrow.NewRepository(conn), commissionSvc, providerSvc, ledgerSvc, publisher, params.Metrics)
	if err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}

	deliveryRepo := deliveries.NewRepository(conn)
	confirmSvc, err := confirmation.NewService(
		deliveryRepo,
		confirmation.NewCursorRepository(conn),
		params.DB,
		escrowSvc,
		publisher,
		confirmation.Config{
			GraceWindow: cfg.GraceWindow,
			BatchSize:   cfg.AutoConfirmBatchSize,
			Retry:       retryPolicy,
		},
		params.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("confirmation service: %w", err)
	}
	deliverySvc, err := deliveries.NewService(deliveryRepo, params.DB, providerSvc, escrowSvc, confirmSvc, publisher, retryPolicy)
	if err != nil {
		return nil, fmt.Errorf("delivery service: %w", err)
	}

	payoutSvc, err := payouts.NewService(
		payouts.NewRepository(conn),
		commissionRepo,
		ledgerSvc,
		params.DB,
		publisher,
		params.Redis,
		providerSvc,
		params.Metrics,
		payouts.Config{Period: cfg.PayoutPeriod, LockTTL: cfg.PayoutSweepLockTTL},
		params.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}
	statsSvc, err := stats.NewService(stats.NewRepository(conn), providerSvc)
	if err != nil {
		return nil, fmt.Errorf("stats service: %w", err)
	}
	intakeSvc, err := orderintake.NewService(deliveryRepo, params.DB, escrowSvc, publisher)
	if err != nil {
		return nil, fmt.Errorf("order intake service: %w", err)
	}

	return &Services{
		Outbox:       publisher,
		DLQ:          outbox.NewDLQRepository(conn),
		Ledger:       ledgerSvc,
		Providers:    providerSvc,
		Commission:   commissionSvc,
		Escrow:       escrowSvc,
		Confirmation: confirmSvc,
		Deliveries:   deliverySvc,
		Payouts:      payoutSvc,
		Stats:        statsSvc,
		Intake:       intakeSvc,
	}, nil
}
