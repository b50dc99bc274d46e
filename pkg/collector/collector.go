// Copyright 2025 Certen Protocol
//
// Price Collector - fans out to all enabled source adapters in parallel
// and merges their observations per canonical symbol.
//
// The collector:
// - Queries each enabled adapter's supported symbol set
// - Fetches batches concurrently with bounded parallelism and a
//   per-adapter deadline
// - Merges results into a per-symbol map under a mutex
// - Swallows adapter failures; a cycle proceeds with whatever arrived

package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/source"
)

// ErrNoDataCollected is returned when every adapter failed and the
// merged observation map is empty.
var ErrNoDataCollected = errors.New("no data collected from any source")

// Collector gathers observations from all enabled adapters.
type Collector struct {
	adapters       []source.Adapter
	adapterTimeout time.Duration
	maxParallelism int
	maxClockSkew   time.Duration
	logger         *log.Logger
}

// Config holds collector configuration.
type Config struct {
	AdapterTimeout time.Duration
	MaxParallelism int
	MaxClockSkew   time.Duration
	Logger         *log.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		AdapterTimeout: 30 * time.Second,
		MaxParallelism: 6,
		MaxClockSkew:   30 * time.Second,
		Logger:         log.New(log.Writer(), "[Collector] ", log.LstdFlags),
	}
}

// New creates a collector over the given adapters.
func New(adapters []source.Adapter, cfg *Config) (*Collector, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("at least one adapter is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Collector] ", log.LstdFlags)
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = len(adapters)
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}

	return &Collector{
		adapters:       adapters,
		adapterTimeout: cfg.AdapterTimeout,
		maxParallelism: cfg.MaxParallelism,
		maxClockSkew:   cfg.MaxClockSkew,
		logger:         cfg.Logger,
	}, nil
}

// Collect runs one fan-out cycle and returns observations grouped by
// canonical symbol. Adapter errors are logged and swallowed; the call
// fails only when nothing at all was gathered.
func (c *Collector) Collect(ctx context.Context) (map[string][]feed.PriceObservation, error) {
	var mu sync.Mutex
	merged := make(map[string][]feed.PriceObservation)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallelism)

	for _, a := range c.adapters {
		adapter := a
		g.Go(func() error {
			symbols := adapter.SupportedSymbols()
			if len(symbols) == 0 {
				c.logger.Printf("Source %s supports none of the configured symbols", adapter.SourceName())
				return nil
			}

			actx, cancel := context.WithTimeout(gctx, c.adapterTimeout)
			defer cancel()

			obs, err := adapter.FetchBatch(actx, symbols)
			if err != nil {
				c.logger.Printf("Warning: source %s failed: %v", adapter.SourceName(), err)
				return nil
			}

			now := time.Now().UTC()
			mu.Lock()
			defer mu.Unlock()
			for _, o := range obs {
				if o.Timestamp.After(now.Add(c.maxClockSkew)) {
					c.logger.Printf("Warning: dropping %s observation from %s with future timestamp %s",
						o.Symbol, o.Source, o.Timestamp)
					continue
				}
				merged[o.Symbol] = append(merged[o.Symbol], o)
			}
			c.logger.Printf("Source %s returned %d observations", adapter.SourceName(), len(obs))
			return nil
		})
	}

	// Adapter goroutines never return errors, so Wait reports nothing;
	// a cancelled context shows up as adapter failures and, when nothing
	// arrived, as ErrNoDataCollected below.
	if err := g.Wait(); err != nil && len(merged) == 0 {
		return nil, fmt.Errorf("collection cancelled: %w", err)
	}

	if len(merged) == 0 {
		return nil, ErrNoDataCollected
	}
	return merged, nil
}

// WorkingSet returns the union of all adapters' supported symbols.
func (c *Collector) WorkingSet() []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range c.adapters {
		for _, sym := range a.SupportedSymbols() {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}
