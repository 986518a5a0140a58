package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tideflow-io/tideflow/pkg/engine"
)

const sweepTimeout = 2 * time.Minute

// SweeperManager runs the scheduled-transition sweep on a cron schedule until
// the process receives an interrupt.
type SweeperManager struct {
	id     string
	engine *engine.Engine
	logger *slog.Logger
}

func NewSweeperManager(id string, workflowEngine *engine.Engine, logger *slog.Logger) *SweeperManager {
	return &SweeperManager{
		id:     id,
		engine: workflowEngine,
		logger: logger.With("module", "sweeper", "engine_id", id),
	}
}

func (s *SweeperManager) Start(ctx context.Context, schedule string) error {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(schedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	scheduler.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", schedule)

	// One immediate pass so restarts pick up already-expired delays without
	// waiting for the first tick.
	s.sweep(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	s.logger.InfoContext(ctx, "Shutting down sweeper...")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	return nil
}

func (s *SweeperManager) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	resumed, err := s.engine.ProcessScheduledTransitions(sweepCtx)
	if err != nil {
		s.logger.ErrorContext(sweepCtx, "Sweep failed", "error", err)

		return
	}

	if resumed > 0 {
		s.logger.InfoContext(sweepCtx, "Sweep resumed instances", "count", resumed)
	}
}
