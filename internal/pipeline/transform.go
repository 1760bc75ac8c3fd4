package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
)

// FeatureTransformer implements Transformer: it turns an observation request
// into a FeatureResult using the configured history source.
type FeatureTransformer struct {
	history  domain.HistorySource
	recorder domain.ObservationRecorder
	cfg      domain.PipelineConfig
	recorded *recordedSet
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewTransformer creates a FeatureTransformer. Pass a nil recorder to leave
// the history store untouched.
func NewTransformer(history domain.HistorySource, recorder domain.ObservationRecorder, cfg domain.PipelineConfig, logger *slog.Logger, metrics *observability.Metrics) *FeatureTransformer {
	return &FeatureTransformer{
		history:  history,
		recorder: recorder,
		cfg:      cfg,
		recorded: newRecordedSet(recordedLimit),
		validate: newValidator(),
		logger:   logger,
		metrics:  metrics,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Transform decodes a source-topic message and builds its feature result.
func (t *FeatureTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.FeatureResult, error) {
	req, err := domain.ParseObservationRequest(raw)
	if err != nil {
		return domain.FeatureResult{}, err
	}
	return t.Featurize(ctx, req)
}

// Featurize validates req, appends it to history and extracts features.
// Insufficient history is reported through the result status, not an error.
func (t *FeatureTransformer) Featurize(ctx context.Context, req domain.ObservationRequest) (domain.FeatureResult, error) {
	if err := t.validate.Struct(req); err != nil {
		return domain.FeatureResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	obs := req.Resolve(t.cfg.Location)
	if err := obs.CheckTime(t.cfg); err != nil {
		return domain.FeatureResult{}, err
	}

	history, err := t.history.FetchHistory(ctx)
	if err != nil {
		return domain.FeatureResult{}, fmt.Errorf("%w: %w", domain.ErrHistoryUnavailable, err)
	}

	result, err := t.build(history, &obs, domain.SourceRequest, req.HorizonHours)
	if err != nil {
		return domain.FeatureResult{}, err
	}

	t.record(ctx, obs)
	return result, nil
}

// record appends obs to the history store unless the same reading was
// already written, as happens when a held batch is transformed again.
func (t *FeatureTransformer) record(ctx context.Context, obs domain.Observation) {
	if t.recorder == nil {
		return
	}
	key := observationKey(obs)
	if !t.recorded.claim(key) {
		t.logger.Debug("observation already recorded", "observed_at", obs.Time)
		return
	}
	if err := t.recorder.AppendObservation(ctx, obs); err != nil {
		t.recorded.release(key)
		t.logger.Warn("record observation failed", "error", err, "observed_at", obs.Time)
	}
}

// Snapshot extracts features from history alone.
func (t *FeatureTransformer) Snapshot(ctx context.Context) (domain.FeatureResult, error) {
	history, err := t.history.FetchHistory(ctx)
	if err != nil {
		return domain.FeatureResult{}, fmt.Errorf("%w: %w", domain.ErrHistoryUnavailable, err)
	}
	return t.build(history, nil, domain.SourceSnapshot, 0)
}

func (t *FeatureTransformer) build(history domain.RawTable, obs *domain.Observation, source string, horizon int) (domain.FeatureResult, error) {
	start := time.Now()
	result, stats, err := domain.Featurize(history, obs, source, horizon, t.cfg)
	t.metrics.FeatureBuildDuration.Observe(time.Since(start).Seconds())
	t.recordStats(stats)
	if err != nil {
		return domain.FeatureResult{}, err
	}

	t.metrics.FeatureResults.WithLabelValues(source, string(result.Status)).Inc()
	switch result.Status {
	case domain.StatusInsufficientData:
		t.logger.Info("not enough history for features",
			"source", source,
			"history_rows", stats.RowsIn,
			"observed_at", result.ObservedAt,
		)
	default:
		t.metrics.HistoryHours.Observe(float64(result.HistoryHours))
		t.logger.Debug("features built",
			"id", result.ID,
			"source", source,
			"history_hours", result.HistoryHours,
			"vectors", len(result.Vectors),
		)
	}
	return result, nil
}

func (t *FeatureTransformer) recordStats(stats domain.ParseStats) {
	if stats.RowsDropped > 0 {
		t.metrics.ParseRecoveries.WithLabelValues("dropped_row").Add(float64(stats.RowsDropped))
	}
	if stats.ValuesCoerced > 0 {
		t.metrics.ParseRecoveries.WithLabelValues("coerced_value").Add(float64(stats.ValuesCoerced))
	}
	if stats.RowsInFuture > 0 {
		t.metrics.ParseRecoveries.WithLabelValues("future_row").Add(float64(stats.RowsInFuture))
	}
	if stats.DuplicateTimestamps > 0 {
		t.metrics.ParseRecoveries.WithLabelValues("duplicate_timestamp").Add(float64(stats.DuplicateTimestamps))
	}
}
