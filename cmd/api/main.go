package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbarros/product-catalog-service/internal/catalog"
	"github.com/mbarros/product-catalog-service/internal/config"
	"github.com/mbarros/product-catalog-service/internal/consumer"
	"github.com/mbarros/product-catalog-service/internal/httpserver"
	"github.com/mbarros/product-catalog-service/internal/obs"
	"github.com/mbarros/product-catalog-service/internal/producer"
	"github.com/mbarros/product-catalog-service/internal/queue"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// main boots the service: config → DB → schema → pipeline → HTTP server.
func main() {
	obs.InitLogger()

	// Load runtime config from environment (DB_URL, API_KEYS, tunables).
	cfg, err := config.Load()
	if err != nil {
		obs.Logger.Error("config_load_failed", "error", err.Error())
		os.Exit(1)
	}

	obs.RegisterMetrics()

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		obs.Logger.Error("db_connect_failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	if err := db.EnsureSchema(); err != nil {
		obs.Logger.Error("schema_apply_failed", "error", err.Error())
		os.Exit(1)
	}

	// Wire the consolidation pipeline.
	q := queue.New(db.Pool(), cfg.Lease)
	prod := producer.New(db, q, cfg.RetryMaxTries, cfg.RetryBaseDelay)
	builder := catalog.NewBuilder(db)
	publisher := catalog.NewPublisher(db)

	pool := consumer.NewPool(consumer.Config{
		Workers:        cfg.WorkerCount,
		ReceiveBatch:   cfg.ReceiveBatch,
		PollInterval:   cfg.PollInterval,
		MaxReceives:    cfg.MaxReceives,
		RetryMaxTries:  cfg.RetryMaxTries,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, q, db, builder, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// Build HTTP router (public health + authenticated APIs).
	router := httpserver.NewRouter(cfg, db, q, prod)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err.Error())
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	// Stop accepting requests first, then stop the pipeline. In-flight
	// batches either complete or redeliver after their lease expires.
	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err.Error())
	}

	cancel()
	pool.Stop()
	obs.Logger.Info("service_stopped")
}
