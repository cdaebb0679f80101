// Package scheduler runs the periodic reconciliation loop: one tick on
// start-up, then one every interval until the context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetabi/snipe/internal/domain"
)

// Reconciler is the operation the Scheduler drives. Implemented by
// service.ReconcileService.
type Reconciler interface {
	Tick(ctx context.Context) (*domain.TickReport, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler calls Reconciler.Tick on a fixed interval. Call Start(ctx) once
// from main(); cancel the context to shut it down.
type Scheduler struct {
	reconciler Reconciler
	interval   time.Duration
	logger     *slog.Logger
	done       chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(reconciler Reconciler, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger.With("component", "scheduler"),
		done:       make(chan struct{}),
	}
}

// Start launches the reconcile loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.reconcileLoop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// ──────────────────────────────────────────────────────────────────────────────
// reconcileLoop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer close(s.done)

	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcileLoop: shutting down")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick is the inner body of reconcileLoop, extracted so a panic in one
// pass is recovered without ending the loop.
func (s *Scheduler) runTick(ctx context.Context) {
	defer s.recoverAndLog("reconcileLoop")

	_, err := s.reconciler.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrTickInProgress):
		// An operator-triggered tick is still running; skip this beat.
		s.logger.Debug("reconcileLoop: tick already running")
	case ctx.Err() != nil:
	default:
		s.logger.Error("reconcileLoop: tick failed", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred around each tick to catch unexpected panics and
// log them; the loop continues with the next tick.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
