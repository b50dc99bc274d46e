package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

// CoinbaseAdapter reads spot prices from the Coinbase public API. The
// spot endpoint serves one pair per call and reports no volume.
type CoinbaseAdapter struct {
	baseAdapter
}

func NewCoinbaseAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *CoinbaseAdapter {
	return &CoinbaseAdapter{
		baseAdapter: newBaseAdapter(config.SourceCoinbase, cfg.Sources[config.SourceCoinbase],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *CoinbaseAdapter) Enabled() bool { return a.cfg.BaseURL != "" }

func (a *CoinbaseAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	return fetchEach(ctx, a, symbols, a.logger)
}

func (a *CoinbaseAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
	ps, err := a.providerSymbol(symbol)
	if err != nil {
		return feed.PriceObservation{}, err
	}

	endpoint := fmt.Sprintf("%s/v2/prices/%s/spot", a.cfg.BaseURL, url.PathEscape(ps))
	var resp struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := a.http.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return feed.PriceObservation{}, err
	}

	price, err := parsePositiveDecimal(resp.Data.Amount)
	if err != nil {
		return feed.PriceObservation{}, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("bad amount %q: %w", resp.Data.Amount, err)}
	}
	return feed.PriceObservation{
		Symbol:    symbol,
		Source:    a.name,
		Price:     price,
		Volume:    decimal.Zero,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"provider_symbol": ps},
	}, nil
}
