package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/climate-feature-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/climate-feature-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/climate-feature-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-feature-etl/internal/adapter/sheets"
	"github.com/couchcryptid/climate-feature-etl/internal/config"
	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
	"github.com/couchcryptid/climate-feature-etl/internal/pipeline"
	"github.com/couchcryptid/climate-feature-etl/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, recorder, err := newHistory(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize history source", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(history, recorder, cfg.Pipeline, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, logger)

	var sched *scheduler.Scheduler
	if cfg.SnapshotSchedule != "" {
		sched, err = scheduler.New(cfg.SnapshotSchedule, cfg.Pipeline.Location, transformer, writer, logger, metrics)
		if err != nil {
			logger.Error("failed to initialize scheduler", "error", err)
			os.Exit(1)
		}
		sched.Start(ctx)
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// newHistory builds the configured history source. The recorder is nil
// unless current observations should be written back to the sheet.
func newHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (domain.HistorySource, domain.ObservationRecorder, error) {
	var (
		source   domain.HistorySource
		appender domain.ObservationRecorder
	)
	switch cfg.HistorySource {
	case config.HistorySheets:
		client, err := sheets.NewClient(ctx, cfg, logger, metrics)
		if err != nil {
			return nil, nil, err
		}
		source = client
		if cfg.SheetsAppendCurrent {
			appender = client
		}
		logger.Info("history from google sheets", "spreadsheet_id", cfg.SheetsSpreadsheetID, "range", cfg.SheetsRange)
	case config.HistoryCSV:
		source = csvfile.NewSource(cfg.HistoryCSVPath)
		logger.Info("history from csv file", "path", cfg.HistoryCSVPath)
	default:
		return nil, nil, fmt.Errorf("unknown history source %q", cfg.HistorySource)
	}

	if cfg.HistoryCacheTTL <= 0 {
		return source, appender, nil
	}
	cached := sheets.NewCachedSource(source, cfg.HistoryCacheTTL, nil, metrics)
	logger.Info("history cache enabled", "ttl", cfg.HistoryCacheTTL)
	if appender != nil {
		return cached, cached, nil
	}
	return cached, nil, nil
}
