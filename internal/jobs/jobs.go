// Package jobs schedules the hold sweeper and the periodic drift scan.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

const sweepBatch = 500

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	Engine     *inventory.Engine
	Reconciler *reconcile.Reconciler
	Alerts     []reconcile.Alerter
	Log        *zap.Logger

	sched *cron.Cron
}

// Start registers the jobs and starts the scheduler. Overlapping runs of the
// same job are skipped.
func (s *Scheduler) Start(ctx context.Context, sweepSpec, reconcileSpec string) error {
	s.sched = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.sched.AddFunc(sweepSpec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("sweep job %q: %w", sweepSpec, err)
	}
	if _, err := s.sched.AddFunc(reconcileSpec, func() { s.Check(ctx) }); err != nil {
		return fmt.Errorf("reconcile job %q: %w", reconcileSpec, err)
	}
	s.sched.Start()
	s.Log.Info("scheduler started", zap.String("sweep", sweepSpec), zap.String("reconcile", reconcileSpec))
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.sched == nil {
		return
	}
	<-s.sched.Stop().Done()
}

// Sweep releases expired holds batch by batch until none are left.
func (s *Scheduler) Sweep(ctx context.Context) int {
	defer func() {
		if err := recover(); err != nil {
			s.Log.Error("sweep panic", zap.Any("panic", err))
		}
	}()
	total := 0
	now := time.Now().UTC()
	for ctx.Err() == nil {
		n, err := s.Engine.ReleaseExpired(ctx, now, sweepBatch)
		total += n
		if err != nil {
			s.Log.Error("hold sweep failed", zap.Int("released", total), zap.Error(err))
			return total
		}
		if n < sweepBatch {
			break
		}
	}
	if total > 0 {
		s.Log.Info("expired holds released", zap.Int("released", total))
	}
	return total
}

// Check scans for drift and raises alerts. It never repairs.
func (s *Scheduler) Check(ctx context.Context) int {
	defer func() {
		if err := recover(); err != nil {
			s.Log.Error("drift scan panic", zap.Any("panic", err))
		}
	}()
	n, err := s.Reconciler.Check(ctx, s.Alerts...)
	if err != nil {
		s.Log.Error("drift scan failed", zap.Error(err))
	}
	return n
}
