package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edusql/edusql/internal/archive"
	"github.com/edusql/edusql/internal/config"
	historypostgres "github.com/edusql/edusql/internal/history/postgres"
	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/query/sqldb"
	s3store "github.com/edusql/edusql/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("edusql-archiver")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	metrics, err := observability.NewPipelineMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := sqldb.Open(context.Background(), sqldb.DBConfig{
		Driver:       "pgx",
		DSN:          cfg.History.DSN,
		MaxOpenConns: 2,
		MaxIdleConns: 2,
	})
	if err != nil {
		logger.Error("failed to open history db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(context.Background(), cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &archive.Service{
		Source:      historypostgres.NewRepository(db, cfg.History.TTL),
		ObjectStore: store,
		Config: archive.Config{
			Interval:  cfg.Archive.Interval,
			RetainFor: cfg.Archive.RetainFor,
			BatchSize: cfg.Archive.BatchSize,
			CreatedBy: cfg.Archive.CreatedBy,
		},
		Logger:  logger,
		Metrics: metrics,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("archiver worker started",
		slog.Duration("interval", cfg.Archive.Interval),
		slog.Duration("retain_for", cfg.Archive.RetainFor),
	)
	if err := svc.Run(ctx); err != nil {
		logger.Error("archiver worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("archiver worker stopped")
}
