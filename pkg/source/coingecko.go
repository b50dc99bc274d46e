package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

// CoinGeckoAdapter reads USD prices from the CoinGecko simple price
// API. Provider symbols are CoinGecko coin ids (e.g. "bitcoin").
type CoinGeckoAdapter struct {
	baseAdapter
}

func NewCoinGeckoAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *CoinGeckoAdapter {
	return &CoinGeckoAdapter{
		baseAdapter: newBaseAdapter(config.SourceCoinGecko, cfg.Sources[config.SourceCoinGecko],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *CoinGeckoAdapter) Enabled() bool { return a.cfg.BaseURL != "" }

type coinGeckoQuote struct {
	USD       float64 `json:"usd"`
	USD24hVol float64 `json:"usd_24h_vol"`
}

func (a *CoinGeckoAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	ids := make([]string, 0, len(symbols))
	byID := map[string]string{} // coin id -> canonical
	for _, sym := range symbols {
		ps, err := a.providerSymbol(sym)
		if err != nil {
			a.logger.Printf("Warning: skipping unmapped symbol %s", sym)
			continue
		}
		ids = append(ids, ps)
		byID[ps] = sym
	}
	if len(ids) == 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true",
		a.cfg.BaseURL, url.QueryEscape(strings.Join(ids, ",")))

	headers := map[string]string{}
	if a.cfg.APIKey != "" {
		headers["x-cg-pro-api-key"] = a.cfg.APIKey
	}

	var resp map[string]coinGeckoQuote
	if err := a.http.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, err
	}

	var out []feed.PriceObservation
	for id, quote := range resp {
		canonical, ok := byID[id]
		if !ok {
			continue
		}
		obs, err := a.toObservation(canonical, id, quote)
		if err != nil {
			a.logger.Printf("Warning: dropping %s quote: %v", id, err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (a *CoinGeckoAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
	obs, err := a.FetchBatch(ctx, []string{symbol})
	if err != nil {
		return feed.PriceObservation{}, err
	}
	if len(obs) == 0 {
		return feed.PriceObservation{}, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("no quote returned for %s", symbol)}
	}
	return obs[0], nil
}

func (a *CoinGeckoAdapter) toObservation(canonical, id string, q coinGeckoQuote) (feed.PriceObservation, error) {
	if q.USD <= 0 {
		return feed.PriceObservation{}, fmt.Errorf("non-positive price %f", q.USD)
	}
	volume := decimal.Zero
	if q.USD24hVol > 0 {
		volume = decimal.NewFromFloat(q.USD24hVol)
	}
	return feed.PriceObservation{
		Symbol:    canonical,
		Source:    a.name,
		Price:     decimal.NewFromFloat(q.USD),
		Volume:    volume,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"provider_symbol": id},
	}, nil
}
