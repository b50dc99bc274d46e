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

// CoinMarketCapAdapter reads USD quotes from the CoinMarketCap Pro API.
// The provider requires an API key; without one the adapter is
// disabled.
type CoinMarketCapAdapter struct {
	baseAdapter
}

func NewCoinMarketCapAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *CoinMarketCapAdapter {
	return &CoinMarketCapAdapter{
		baseAdapter: newBaseAdapter(config.SourceCoinMarketCap, cfg.Sources[config.SourceCoinMarketCap],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *CoinMarketCapAdapter) Enabled() bool {
	return a.cfg.BaseURL != "" && a.cfg.APIKey != ""
}

type cmcQuoteResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]struct {
		Quote map[string]struct {
			Price     float64 `json:"price"`
			Volume24h float64 `json:"volume_24h"`
		} `json:"quote"`
	} `json:"data"`
}

func (a *CoinMarketCapAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	providerSyms := make([]string, 0, len(symbols))
	byProvider := map[string]string{}
	for _, sym := range symbols {
		ps, err := a.providerSymbol(sym)
		if err != nil {
			a.logger.Printf("Warning: skipping unmapped symbol %s", sym)
			continue
		}
		providerSyms = append(providerSyms, ps)
		byProvider[ps] = sym
	}
	if len(providerSyms) == 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/v1/cryptocurrency/quotes/latest?symbol=%s&convert=USD",
		a.cfg.BaseURL, url.QueryEscape(strings.Join(providerSyms, ",")))
	headers := map[string]string{"X-CMC_PRO_API_KEY": a.cfg.APIKey}

	var resp cmcQuoteResponse
	if err := a.http.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Status.ErrorCode != 0 {
		return nil, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("api error %d: %s", resp.Status.ErrorCode, resp.Status.ErrorMessage)}
	}

	var out []feed.PriceObservation
	for ps, entry := range resp.Data {
		canonical, ok := byProvider[ps]
		if !ok {
			continue
		}
		usd, ok := entry.Quote["USD"]
		if !ok || usd.Price <= 0 {
			a.logger.Printf("Warning: dropping %s quote (missing or non-positive USD price)", ps)
			continue
		}
		volume := decimal.Zero
		if usd.Volume24h > 0 {
			volume = decimal.NewFromFloat(usd.Volume24h)
		}
		out = append(out, feed.PriceObservation{
			Symbol:    canonical,
			Source:    a.name,
			Price:     decimal.NewFromFloat(usd.Price),
			Volume:    volume,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]string{"provider_symbol": ps},
		})
	}
	return out, nil
}

func (a *CoinMarketCapAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
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
