// Command master starts a Katta Master / Placement Controller process.
//
// Every master process campaigns for the single active-controller
// election token; only the winner drives shard placement, while the
// rest sit idle as hot standbys ready to take over. The active master
// maintains the authoritative shard-to-node assignment, drives index
// deployment state machines, and reacts to node and shard events,
// recording every transition to the audit log and the cluster event bus.
//
// Usage:
//
//	go run ./cmd/master [-config configs/development.yaml]
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

	"github.com/katta-cluster/katta/internal/audit"
	"github.com/katta-cluster/katta/internal/events"
	"github.com/katta-cluster/katta/internal/master"
	"github.com/katta-cluster/katta/internal/store"
	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/health"
	"github.com/katta-cluster/katta/pkg/kafka"
	"github.com/katta-cluster/katta/pkg/logger"
	"github.com/katta-cluster/katta/pkg/metrics"
	"github.com/katta-cluster/katta/pkg/middleware"
	"github.com/katta-cluster/katta/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	name, err := os.Hostname()
	if err != nil {
		name = fmt.Sprintf("master-%d", os.Getpid())
	}
	slog.Info("starting master", "name", name)

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
	controller := master.NewController(adapter, cfg.Master, name, m)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("audit log disabled: postgres unavailable", "error", err)
	} else {
		defer db.Close()
		controller.SetAuditLogger(audit.New(db))
		slog.Info("audit log connected to postgres")
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.EventsTopic)
	defer producer.Close()
	publisher := events.NewPublisher(producer, 0)
	publisher.Start(ctx)
	defer publisher.Close()
	controller.SetEventPublisher(publisher)

	checker := health.NewChecker()
	checker.Register("store", func(ctx context.Context) health.ComponentHealth {
		if _, err := adapter.Exists(ctx, "/"); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/structure", controller.StructureHandler())
	mux.HandleFunc("/healthz", checker.LiveHandler())
	mux.HandleFunc("/readyz", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	var handler http.Handler = mux
	handler = middleware.Timeout(5 * time.Second)(handler)
	handler = middleware.Metrics(m)(handler)
	httpAddr := fmt.Sprintf(":%d", cfg.Master.HTTPPort)
	go func() {
		slog.Info("master admin endpoint listening", "addr", httpAddr)
		if err := http.ListenAndServe(httpAddr, handler); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http server error", "error", err)
		}
	}()

	if err := controller.Run(ctx); err != nil {
		slog.Error("master controller stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("master stopped")
}
