package sheets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
	"github.com/couchcryptid/climate-feature-etl/internal/observability"
)

// CachedSource wraps a HistorySource with a single-entry TTL cache. Concurrent
// callers on a miss wait for one fetch instead of issuing their own.
type CachedSource struct {
	inner   domain.HistorySource
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	table   domain.RawTable
	fetched time.Time
	valid   bool
}

// NewCachedSource creates a cache decorator. A nil clock uses real time.
func NewCachedSource(inner domain.HistorySource, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedSource{inner: inner, ttl: ttl, clock: clock, metrics: metrics}
}

func (c *CachedSource) FetchHistory(ctx context.Context) (domain.RawTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.clock.Since(c.fetched) < c.ttl {
		c.metrics.HistoryCache.WithLabelValues("hit").Inc()
		return c.table, nil
	}
	c.metrics.HistoryCache.WithLabelValues("miss").Inc()

	table, err := c.inner.FetchHistory(ctx)
	if err != nil {
		return domain.RawTable{}, err
	}
	c.table, c.fetched, c.valid = table, c.clock.Now(), true
	return table, nil
}

// AppendObservation forwards to the wrapped source and drops the cached table
// so the next fetch sees the new row.
func (c *CachedSource) AppendObservation(ctx context.Context, obs domain.Observation) error {
	rec, ok := c.inner.(domain.ObservationRecorder)
	if !ok {
		return errors.New("history source does not accept observations")
	}
	if err := rec.AppendObservation(ctx, obs); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate forces the next fetch to go to the wrapped source.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
