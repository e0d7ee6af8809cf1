// Package app wires the stores, adapters and services shared by the
// binaries.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/config"
	"github.com/ariefcatur/go-variant-inventory/internal/fulfillment"
	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	kafkax "github.com/ariefcatur/go-variant-inventory/internal/kafka"
	"github.com/ariefcatur/go-variant-inventory/internal/metrics"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
	"github.com/ariefcatur/go-variant-inventory/internal/postgres"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
	"github.com/ariefcatur/go-variant-inventory/internal/redisx"
)

type Application struct {
	Config   config.Config
	Log      *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store inventory.Store
	Redis *redis.Client
	Cache *redisx.AvailabilityCache
	Dedup *redisx.Dedup

	Engine      *inventory.Engine
	Coordinator *fulfillment.Coordinator
	Reconciler  *reconcile.Reconciler
	Alerts      []reconcile.Alerter

	producers []*kafkax.Producer
	closers   []func()
}

// New builds the application for cfg. With STORE_DRIVER=memory it runs
// standalone: no Postgres, Redis or Kafka.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Application, error) {
	a := &Application{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)
	observers := []inventory.Observer{a.Metrics}
	a.Alerts = []reconcile.Alerter{a.Metrics}

	switch cfg.StoreDriver {
	case "memory":
		a.Store = inventory.NewMemoryStore()
		a.Log.Warn("running with the in-memory store; state is lost on exit")
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)

		a.Redis = redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		if err := redisx.Ping(ctx, a.Redis); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Cache = redisx.NewAvailabilityCache(a.Redis, cfg.AvailabilityTTL, a.Log)
		a.Dedup = redisx.NewDedup(a.Redis, cfg.ServiceName)
		observers = append(observers, a.Cache)

		ledger := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicInventoryLedger, 1024, a.Log)
		drift := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicInventoryDrift, 64, a.Log)
		a.producers = append(a.producers, ledger, drift)
		observers = append(observers, &kafkax.LedgerPublisher{Out: ledger, ServiceName: cfg.ServiceName})
		a.Alerts = append(a.Alerts, &kafkax.DriftAlerts{Out: drift, ServiceName: cfg.ServiceName})
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	a.Engine = inventory.NewEngine(a.Store, a.Log.Named("engine"),
		inventory.WithHoldTTL(cfg.HoldTTL),
		inventory.WithObservers(observers...),
		inventory.WithRecorder(a.Metrics))
	a.Coordinator = fulfillment.NewCoordinator(a.Engine, a.Log.Named("fulfillment"),
		fulfillment.WithExchangeHoldTTL(cfg.ExchangeHoldTTL),
		fulfillment.WithObservers(observers...),
		fulfillment.WithRecorder(a.Metrics))
	a.Reconciler = reconcile.New(a.Store, a.Log.Named("reconcile"),
		reconcile.WithObservers(observers...))
	return a, nil
}

// StartProducers runs the Kafka send loops until ctx ends.
func (a *Application) StartProducers(ctx context.Context) {
	for _, p := range a.producers {
		p.Start(ctx)
	}
}

// StatusHandler applies order status events with Redis dedup when available.
func (a *Application) StatusHandler() *fulfillment.StatusHandler {
	h := &fulfillment.StatusHandler{Coordinator: a.Coordinator, Log: a.Log.Named("status")}
	if a.Dedup != nil {
		h.Dedup = a.Dedup
	}
	return h
}

// Close flushes the producers and releases connections. The logger is left to
// the caller.
func (a *Application) Close() {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
