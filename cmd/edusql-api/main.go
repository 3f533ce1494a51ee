package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edusql/edusql/internal/api"
	"github.com/edusql/edusql/internal/auth"
	"github.com/edusql/edusql/internal/config"
	"github.com/edusql/edusql/internal/fastpath"
	"github.com/edusql/edusql/internal/history"
	historypostgres "github.com/edusql/edusql/internal/history/postgres"
	"github.com/edusql/edusql/internal/intent"
	"github.com/edusql/edusql/internal/llm"
	"github.com/edusql/edusql/internal/nl2sql"
	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/pipeline"
	"github.com/edusql/edusql/internal/query/sqldb"
	"github.com/edusql/edusql/internal/schema"
)

func main() {
	cfg, err := config.LoadFromEnv("edusql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	metrics, err := observability.NewPipelineMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to register pipeline metrics", slog.Any("error", err))
		os.Exit(1)
	}

	appDB, err := sqldb.Open(context.Background(), sqldb.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open application db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = appDB.Close() }()

	dialect, err := schema.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		logger.Error("unsupported database driver", slog.Any("error", err))
		os.Exit(1)
	}
	engine := sqldb.NewEngine(appDB, sqldb.EngineConfig{
		ReadOnlyTx:      cfg.Database.ReadOnlyTx && dialect != schema.DialectDuckDB,
		DefaultRowLimit: cfg.Database.RowLimit,
	})

	var (
		historyStore history.Store = history.NewMemoryStore(cfg.History.TTL)
		historyCheck api.ReadinessCheck
	)
	if cfg.History.Enabled {
		historyDB, err := sqldb.Open(context.Background(), sqldb.DBConfig{
			Driver:       "pgx",
			DSN:          cfg.History.DSN,
			MaxOpenConns: 5,
			MaxIdleConns: 5,
		})
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func(db *sql.DB) { _ = db.Close() }(historyDB)
		repo := historypostgres.NewRepository(historyDB, cfg.History.TTL)
		historyStore = repo
		historyCheck = repo.HealthCheck
	}

	aiClient, err := llm.FromConfig(context.Background(), cfg.AI)
	if err != nil {
		logger.Error("failed to initialize ai client", slog.Any("error", err))
		os.Exit(1)
	}
	if closer, ok := aiClient.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	translator, err := nl2sql.NewLLMTranslator(aiClient, nl2sql.Config{
		Provider:    cfg.AI.Provider,
		Model:       cfg.AI.SQLModel,
		Temperature: cfg.AI.SQLTemperature,
		MaxTokens:   cfg.AI.MaxTokens,
	}, metrics)
	if err != nil {
		logger.Error("failed to initialize sql translator", slog.Any("error", err))
		os.Exit(1)
	}

	standard, err := pipeline.NewStandard(pipeline.StandardConfig{
		Dialect:         string(dialect),
		RowLimit:        cfg.Database.RowLimit,
		ChatModel:       cfg.AI.ChatModel,
		ChatTemperature: cfg.AI.ChatTemperature,
		MaxTokens:       cfg.AI.MaxTokens,
		IntentTimeout:   cfg.Pipeline.IntentTimeout,
		SchemaTimeout:   cfg.Pipeline.SchemaTimeout,
		SQLTimeout:      cfg.Pipeline.SQLTimeout,
		ExecuteTimeout:  cfg.Pipeline.ExecuteTimeout,
		ChatTimeout:     cfg.Pipeline.ChatTimeout,
		HistoryTimeout:  cfg.Pipeline.HistoryTimeout,
	}, pipeline.Dependencies{
		Classifier: intent.NewClassifier(aiClient, intent.Config{
			Model:       cfg.AI.IntentModel,
			Temperature: cfg.AI.IntentTemperature,
			MaxTokens:   cfg.AI.MaxTokens,
		}, logger, metrics),
		Schema:     schema.NewIntrospector(appDB, dialect, logger, metrics),
		Translator: translator,
		Engine:     engine,
		History:    historyStore,
		Chat:       aiClient,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	strategies := make([]pipeline.Strategy, 0, 2)
	if fast := fastpath.New(fastpath.Config{URL: cfg.Pipeline.FastPathURL, Timeout: cfg.Pipeline.FastPathTimeout}); fast.Enabled() {
		strategies = append(strategies, pipeline.NewFastPath(fast))
	}
	strategies = append(strategies, standard)
	orchestrator, err := pipeline.New(pipeline.Config{MaxQueryLength: cfg.Pipeline.MaxQueryLength}, logger, metrics, strategies...)
	if err != nil {
		logger.Error("failed to initialize orchestrator", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: orchestrator,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			api.CheckAIConfig(cfg),
			engine.Ping,
			historyCheck,
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", cfg.Database.Driver),
			slog.Bool("fast_path", len(strategies) > 1),
			slog.Bool("history_db", cfg.History.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
