package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const readinessTimeout = 10 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

// dependency is something the worker must reach before it starts pulling
// orders, otherwise every message would be nacked straight back.
type dependency struct {
	name string
	conn pinger
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []dependency
	Consumer     consumer
}

type Service struct {
	logg     *logger.Logger
	deps     []dependency
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("order intake consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.conn == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, consumer: params.Consumer}, nil
}

// ready pings every dependency in parallel and fails on the first error.
func (s *Service) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, dep := range s.deps {
		group.Go(func() error {
			if err := dep.conn.Ping(groupCtx); err != nil {
				return fmt.Errorf("%s ping failed: %w", dep.name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// Run checks readiness, then blocks on the consumer until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "worker dependencies not ready", err)
		return err
	}
	s.logg.Info(ctx, "worker dependencies ready")

	if err := s.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("order intake consumer: %w", err)
	}
	return ctx.Err()
}
