package main

import (
	"context"
	"os/signal"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-variant-inventory/internal/app"
	"github.com/ariefcatur/go-variant-inventory/internal/config"
	"github.com/ariefcatur/go-variant-inventory/internal/jobs"
	kafkax "github.com/ariefcatur/go-variant-inventory/internal/kafka"
	"github.com/ariefcatur/go-variant-inventory/internal/logging"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
)

// inventory consumes order status events and runs the hold sweeper and the
// drift scan.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(cfg.Environment).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()
	a.StartProducers(ctx)

	sched := &jobs.Scheduler{Engine: a.Engine, Reconciler: a.Reconciler, Alerts: a.Alerts, Log: log.Named("jobs")}
	if err := sched.Start(ctx, cfg.SweepSpec, cfg.ReconcileSpec); err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.StoreDriver != "memory" {
		handler := a.StatusHandler()
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicOrderStatus, cfg.InventoryWorkers, log)
		g.Go(func() error {
			log.Info("inventory consumer started",
				zap.String("group", cfg.InventoryGroup),
				zap.String("topic", orders.TopicOrderStatus),
				zap.Int("workers", cfg.InventoryWorkers))
			return cons.Start(gctx, func(ctx context.Context, m kafkago.Message) error {
				err := handler.HandleMessage(ctx, m)
				a.Metrics.Consumed(err)
				return err
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("consumer exit", zap.Error(err))
	}
	log.Info("shutting down consumer...")
}
