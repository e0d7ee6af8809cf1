package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/app"
	"github.com/ariefcatur/go-variant-inventory/internal/config"
	"github.com/ariefcatur/go-variant-inventory/internal/httpx"
	"github.com/ariefcatur/go-variant-inventory/internal/logging"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(cfg.Environment).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()
	a.StartProducers(ctx)

	router := httpx.NewRouter(log, a.Registry)
	inv := &httpx.InventoryHandler{Engine: a.Engine, Log: log}
	if a.Cache != nil {
		inv.Cache = a.Cache
	}
	inv.Register(router)
	(&httpx.OrdersHandler{Coordinator: a.Coordinator, Status: a.StatusHandler(), Service: cfg.ServiceName}).Register(router)
	(&httpx.AdminHandler{Store: a.Store, Reconciler: a.Reconciler, Alerts: a.Alerts}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}
