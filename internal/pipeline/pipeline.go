package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
)

// BatchExtractor reads up to batchSize raw events from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns a raw observation request into a feature result.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.FeatureResult, error)
}

// BatchLoader publishes feature results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []domain.FeatureResult) error
}

// Pipeline orchestrates the extract-transform-load loop.
//
// Requests that cannot be served because history is unavailable, and batches
// whose load failed, are held and retried with backoff instead of extracting
// new messages. Offsets are committed only once a request has either been
// published or rejected as unprocessable.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int

	// pending is owned by the Run goroutine.
	pending []domain.RawEvent
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// CheckReadiness returns nil once the pipeline has published at least one
// result, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not published any feature results yet")
	}
	return nil
}

// Run executes the batch ETL loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	b := newBackoff(200*time.Millisecond, 5*time.Second)
	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err(), "pending", len(p.pending))
			return nil
		}
		if !p.step(ctx, b) {
			return nil
		}
	}
}

// step runs one cycle over the held batch, or a freshly extracted one.
// It returns false when the pipeline should stop.
func (p *Pipeline) step(ctx context.Context, b *backoff) bool {
	start := time.Now()

	batch := p.pending
	p.pending = nil
	if len(batch) == 0 {
		var err error
		batch, err = p.extractor.ExtractBatch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Error("extract batch failed", "error", err)
			return b.wait(ctx)
		}
		if len(batch) == 0 {
			return ctx.Err() == nil
		}
		p.metrics.MessagesConsumed.Add(float64(len(batch)))
		p.metrics.BatchSize.Observe(float64(len(batch)))
	}

	loaded, held, ok := p.transformAndLoad(ctx, batch)
	if !ok {
		return false
	}
	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	if held {
		return b.wait(ctx)
	}
	b.reset()
	return true
}

// transformAndLoad transforms each request in order, publishes the results
// and commits their offsets. A history outage stops the batch at that request
// and holds the remainder. It reports how many results were published, whether
// anything is held for retry, and false as the last value if the pipeline
// should stop.
func (p *Pipeline) transformAndLoad(ctx context.Context, batch []domain.RawEvent) (int, bool, bool) {
	var (
		results  = make([]domain.FeatureResult, 0, len(batch))
		byID     = make(map[string]int, len(batch))
		served   = make([]domain.RawEvent, 0, len(batch))
		rest     []domain.RawEvent
		rejected []domain.RawEvent
	)

	for i, raw := range batch {
		res, err := p.transformer.Transform(ctx, raw)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return 0, false, false
		case errors.Is(err, domain.ErrHistoryUnavailable):
			p.logger.Warn("history unavailable, holding requests",
				"error", err,
				"held", len(batch)-i,
			)
			rest = batch[i:]
		default:
			p.logger.Warn("transform failed, skipping message",
				"error", err,
				"reason", rejectReason(err),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.TransformErrors.Inc()
			rejected = append(rejected, raw)
			continue
		}
		if rest != nil {
			break
		}

		// A later request for the same hour and horizon supersedes an earlier one.
		if j, dup := byID[res.ID]; dup && res.ID != "" {
			results[j] = res
		} else {
			byID[res.ID] = len(results)
			results = append(results, res)
		}
		served = append(served, raw)
	}

	for _, raw := range rejected {
		p.commitOffset(ctx, raw)
	}
	p.pending = rest

	if len(results) == 0 {
		return 0, rest != nil, true
	}

	if err := p.loader.LoadBatch(ctx, results); err != nil {
		if ctx.Err() != nil {
			return 0, false, false
		}
		p.logger.Error("load batch failed, holding requests", "error", err, "batch_size", len(results))
		p.pending = append(served, rest...)
		return 0, true, true
	}

	p.metrics.MessagesProduced.Add(float64(len(results)))
	for _, raw := range served {
		p.commitOffset(ctx, raw)
	}
	return len(results), rest != nil, true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func rejectReason(err error) string {
	var mismatch *domain.FeatureMismatchError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrSchema):
		return "schema"
	case errors.As(err, &mismatch):
		return "feature_mismatch"
	default:
		return "malformed"
	}
}

// backoff doubles from min up to max and resets after a clean cycle.
type backoff struct {
	cur, min, max time.Duration
}

func newBackoff(lo, hi time.Duration) *backoff {
	return &backoff{cur: lo, min: lo, max: hi}
}

func (b *backoff) reset() { b.cur = b.min }

// wait sleeps for the current delay and advances it. It returns false if ctx
// ended first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.cur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	b.cur = min(b.cur*2, b.max)
	return true
}
