// Copyright 2025 Certen Protocol
//
// Source adapter contract. Every market-data provider is wrapped in an
// Adapter with a uniform capability: given canonical symbols, return the
// observations that actually succeeded. Adapters never invent data.

package source

import (
	"context"
	"fmt"
	"log"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

// Adapter is the uniform provider capability consumed by the collector.
type Adapter interface {
	// SourceName returns the stable source identifier.
	SourceName() string

	// Enabled reports whether the adapter has the configuration it
	// needs (keyless providers are enabled by default).
	Enabled() bool

	// SupportedSymbols returns the canonical symbols this source can
	// serve, derived from the mapping table.
	SupportedSymbols() []string

	// FetchBatch attempts one batch call for the given symbols and
	// returns observations only for symbols that succeeded. Partial
	// success is allowed.
	FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error)

	// Fetch returns a single observation, failing with
	// ErrUnsupportedSymbol when the symbol has no mapping for this
	// source.
	Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error)
}

// baseAdapter carries the pieces every concrete adapter shares.
type baseAdapter struct {
	name     string
	cfg      config.SourceConfig
	symbols  []string
	mappings config.SymbolMappings
	http     *HTTPClient
	logger   *log.Logger
}

func newBaseAdapter(name string, cfg config.SourceConfig, symbols []string, mappings config.SymbolMappings, limiter *ratelimit.Limiter, logger *log.Logger) baseAdapter {
	if logger == nil {
		logger = log.New(log.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
	}
	return baseAdapter{
		name:     name,
		cfg:      cfg,
		symbols:  symbols,
		mappings: mappings,
		logger:   logger,
		http: NewHTTPClient(HTTPClientConfig{
			Source:  name,
			Timeout: cfg.Timeout(),
			Limiter: limiter,
			Logger:  logger,
		}),
	}
}

func (b *baseAdapter) SourceName() string { return b.name }

func (b *baseAdapter) SupportedSymbols() []string {
	return b.mappings.SupportedBy(b.name, b.symbols)
}

// providerSymbol resolves the provider-native symbol or fails with
// ErrUnsupportedSymbol.
func (b *baseAdapter) providerSymbol(canonical string) (string, error) {
	ps := b.mappings.ProviderSymbol(canonical, b.name)
	if ps == "" {
		return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedSymbol, canonical, b.name)
	}
	return ps, nil
}

// canonicalFor reverse-maps a provider symbol back to its canonical
// symbol within the supported set.
func (b *baseAdapter) canonicalFor(provider string) (string, bool) {
	for _, sym := range b.symbols {
		if b.mappings.ProviderSymbol(sym, b.name) == provider {
			return sym, true
		}
	}
	return "", false
}

// fetchEach is the shared per-symbol fallback path used by providers
// without a true batch endpoint. Failed symbols are logged and skipped.
func fetchEach(ctx context.Context, a Adapter, symbols []string, logger *log.Logger) ([]feed.PriceObservation, error) {
	var out []feed.PriceObservation
	for _, sym := range symbols {
		obs, err := a.Fetch(ctx, sym)
		if err != nil {
			logger.Printf("Warning: %s failed for %s: %v", a.SourceName(), sym, err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Registry constructs every known adapter from configuration.
type Registry struct {
	adapters []Adapter
	logger   *log.Logger
}

// NewRegistry builds adapters for all known sources. Disabled adapters
// are constructed but filtered out by Enabled().
func NewRegistry(cfg *config.Config, limiter *ratelimit.Limiter, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[SourceRegistry] ", log.LstdFlags)
	}

	for name, sc := range cfg.Sources {
		limiter.SetRate(name, sc.TokensPerSecond)
	}

	adapters := []Adapter{
		NewBinanceAdapter(cfg, limiter),
		NewCoinbaseAdapter(cfg, limiter),
		NewOKExAdapter(cfg, limiter),
		NewKrakenAdapter(cfg, limiter),
		NewCoinGeckoAdapter(cfg, limiter),
		NewCoinMarketCapAdapter(cfg, limiter),
	}
	return &Registry{adapters: adapters, logger: logger}
}

// Enabled returns the adapters that are usable with the current
// configuration.
func (r *Registry) Enabled() []Adapter {
	var out []Adapter
	for _, a := range r.adapters {
		if a.Enabled() {
			out = append(out, a)
		} else {
			r.logger.Printf("Source %s disabled (missing credentials)", a.SourceName())
		}
	}
	return out
}

// All returns every constructed adapter.
func (r *Registry) All() []Adapter { return r.adapters }
