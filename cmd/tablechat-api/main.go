package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablechat/tablechat/internal/api"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/executor"
	"github.com/tablechat/tablechat/internal/ingest"
	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/memory"
	memorypostgres "github.com/tablechat/tablechat/internal/memory/postgres"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/schema"
	tenantpostgres "github.com/tablechat/tablechat/internal/tenant/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("tablechat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := tenantpostgres.Open(context.Background(), tenantpostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	tenantStore := tenantpostgres.NewStore(db)
	memoryStore := memorypostgres.NewStore(db)
	memoryManager := memory.NewManager(memoryStore, client, memory.Config{
		HistoryLimit:       cfg.Memory.HistoryLimit,
		SummarizeThreshold: cfg.Memory.SummarizeThreshold,
	}, logger)
	grounder := schema.NewGrounder(db, cfg.Grounder.CardinalityCeiling)
	queryExecutor := executor.New(db)
	answerPipeline := pipeline.New(grounder, queryExecutor, memoryManager, client, pipeline.Config{
		DescribeRowLimit: cfg.Pipeline.DescribeRowLimit,
	}, logger)

	deps := api.Dependencies{
		Logger:   logger,
		Tenants:  tenantStore,
		Ingestor: ingest.NewMaterializer(db),
		Schema:   grounder,
		Pipeline: answerPipeline,
		Sessions: memoryManager,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			tenantStore.HealthCheck,
		),
		DependencyTimeout: time.Second,
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
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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
