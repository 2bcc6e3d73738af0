package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chadapter "github.com/couchcryptid/forecast-inserter/internal/adapter/clickhouse"
	"github.com/couchcryptid/forecast-inserter/internal/adapter/download"
	"github.com/couchcryptid/forecast-inserter/internal/adapter/httpapi"
	"github.com/couchcryptid/forecast-inserter/internal/adapter/rabbit"
	"github.com/couchcryptid/forecast-inserter/internal/config"
	"github.com/couchcryptid/forecast-inserter/internal/observability"
	"github.com/couchcryptid/forecast-inserter/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	writer, err := chadapter.NewWriter(chadapter.Options{
		Addr:     cfg.CHAddr,
		Database: cfg.CHDatabase,
		Username: cfg.CHUser,
		Password: cfg.CHPassword,
		Table:    cfg.CHTable,
	}, logger)
	if err != nil {
		logger.Error("failed to open clickhouse connection", "error", err)
		os.Exit(1)
	}

	fetcher := download.NewFetcher(cfg.DownloadTimeout, logger)
	parser := pipeline.NewFileParser()
	ingester := pipeline.NewIngester(fetcher, parser, writer, logger, metrics)

	srv := httpapi.NewServer(cfg.HTTPAddr, ingester, logger)
	consumer := rabbit.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitPrefetch, ingester, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := writer.Ping(ctx); err != nil {
		// The service still starts: ClickHouse may come up after us.
		logger.Warn("clickhouse not reachable at startup", "addr", cfg.CHAddr, "error", err)
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start queue consumer.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	// The consumer finishes its in-flight message before the writer goes away.
	<-consumerDone

	if err := writer.Close(); err != nil {
		logger.Error("clickhouse close error", "error", err)
	}

	logger.Info("shutdown complete")
}
