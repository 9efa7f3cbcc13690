// Package price provides spot exchange-rate lookups for converting validator
// economics into a quote currency. Sources are pluggable; the cache in front
// of them guarantees that a price is always served, possibly flagged stale,
// so that a price outage never fails a metrics collection.
package price

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

// Quote is a single observed exchange rate. Values are copies; a Quote
// handed out is never mutated afterwards.
type Quote struct {
	Pair      string
	Rate      decimal.Decimal
	FetchedAt time.Time
	// Stale is set when the quote is older than the configured threshold
	// but is served anyway as the last known value.
	Stale bool
}

// Source fetches the current spot rate for a pair, e.g. "SOLUSDT".
type Source interface {
	Spot(ctx context.Context, pair string) (decimal.Decimal, error)
}

// CachingSource wraps a Source with a refresh cadence and a staleness
// threshold. Get never blocks longer than one upstream fetch and never
// withholds a previously known value.
type CachingSource struct {
	source     Source
	pair       string
	refreshAge time.Duration
	staleAge   time.Duration
	logger     *zap.SugaredLogger

	mu   sync.Mutex
	last *Quote
	now  func() time.Time
}

func NewCachingSource(source Source, pair string, refreshAge, staleAge time.Duration) *CachingSource {
	return &CachingSource{
		source:     source,
		pair:       pair,
		refreshAge: refreshAge,
		staleAge:   staleAge,
		logger:     slog.Get(),
		now:        time.Now,
	}
}

// Get returns the cached quote, refreshing it from the source when it is
// older than the refresh cadence. A fetch failure falls back to the last
// known quote; only a failure with no prior quote returns an error.
func (c *CachingSource) Get(ctx context.Context) (*Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.last != nil && now.Sub(c.last.FetchedAt) < c.refreshAge {
		return c.snapshotLocked(now), nil
	}

	rate, err := c.source.Spot(ctx, c.pair)
	if err != nil {
		if c.last == nil {
			return nil, errors.Wrapf(err, "no cached %s quote to fall back on", c.pair)
		}
		c.logger.Warnf("Failed to refresh %s quote, serving last known value: %v", c.pair, err)
		return c.snapshotLocked(now), nil
	}

	c.last = &Quote{Pair: c.pair, Rate: rate, FetchedAt: now}
	return c.snapshotLocked(now), nil
}

// Last returns the cached quote without refreshing, or nil if no fetch has
// ever succeeded.
func (c *CachingSource) Last() *Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	return c.snapshotLocked(c.now())
}

func (c *CachingSource) snapshotLocked(now time.Time) *Quote {
	quote := *c.last
	quote.Stale = now.Sub(quote.FetchedAt) > c.staleAge
	return &quote
}
