// Package scheduler publishes feature snapshots built from history alone on
// a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
)

// Snapshotter builds a feature result without a current observation.
type Snapshotter interface {
	Snapshot(ctx context.Context) (domain.FeatureResult, error)
}

// Loader publishes feature results.
type Loader interface {
	LoadBatch(ctx context.Context, results []domain.FeatureResult) error
}

// Scheduler runs snapshot jobs. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	snap    Snapshotter
	loader  Loader
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard five-field cron, or descriptors such as
// "@hourly") evaluated in loc.
func New(spec string, loc *time.Location, snap Snapshotter, loader Loader, logger *slog.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	s := &Scheduler{
		snap:    snap,
		loader:  loader,
		timeout: time.Minute,
		logger:  logger,
		metrics: metrics,
		ctx:     context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid SNAPSHOT_SCHEDULE %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background. Jobs derive their context from
// ctx and stop being scheduled once Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("snapshot scheduler started", "next_run", s.cron.Entries()[0].Next)
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce builds and publishes one snapshot.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	result, err := s.snap.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	if err := s.loader.LoadBatch(ctx, []domain.FeatureResult{result}); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	s.logger.Info("snapshot published",
		"id", result.ID,
		"status", result.Status,
		"observed_at", result.ObservedAt,
	)
	return nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.metrics.SnapshotRuns.WithLabelValues("error").Inc()
		s.logger.Error("snapshot failed", "error", err)
		return
	}
	s.metrics.SnapshotRuns.WithLabelValues("success").Inc()
}
