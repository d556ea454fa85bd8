// Command node starts a Katta Worker Node.
//
// A Worker Node hosts a set of shard replicas assigned to it by the
// active Master, serves shard-local search RPCs for the Query
// Coordinator's scatter/gather phases, and announces its own liveness
// through an ephemeral entry in the metadata store.
//
// Usage:
//
//	go run ./cmd/node [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/internal/worker"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/health"
	"github.com/katta-cluster/katta/pkg/logger"
	"github.com/katta-cluster/katta/pkg/metrics"
	"github.com/katta-cluster/katta/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Worker.NodeName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = fmt.Sprintf("node-%d", os.Getpid())
		}
		cfg.Worker.NodeName = host
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting worker node", "node", cfg.Worker.NodeName, "port", cfg.Worker.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := store.New(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to connect to metadata store", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()
	slog.Info("connected to metadata store", "endpoints", cfg.Store.Endpoints)

	m := metrics.New()
	node := worker.NewNode(adapter, cfg.Worker, m)

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		if _, err := adapter.Exists(ctx, "/"); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", checker.LiveHandler())
		mux.HandleFunc("/readyz", checker.ReadyHandler())
		var handler http.Handler = mux
		handler = middleware.Timeout(5 * time.Second)(handler)
		handler = middleware.Metrics(m)(handler)
		httpAddr := fmt.Sprintf(":%d", cfg.Worker.HTTPPort)
		go func() {
			slog.Info("worker admin endpoint listening", "addr", httpAddr)
			if err := http.ListenAndServe(httpAddr, handler); err != nil && err != http.ErrServerClosed {
				slog.Error("admin http server error", "error", err)
			}
		}()
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- node.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-runErrCh:
		if err != nil {
			slog.Error("worker node stopped with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGrace+5*time.Second)
	defer cancel()
	node.Stop(shutdownCtx)

	slog.Info("worker node stopped")
}
