package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

// BinanceAdapter reads spot tickers from the Binance public REST API.
type BinanceAdapter struct {
	baseAdapter
}

// NewBinanceAdapter creates the Binance adapter. Binance needs no
// credentials, so it is enabled whenever a base URL is configured.
func NewBinanceAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *BinanceAdapter {
	return &BinanceAdapter{
		baseAdapter: newBaseAdapter(config.SourceBinance, cfg.Sources[config.SourceBinance],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *BinanceAdapter) Enabled() bool { return a.cfg.BaseURL != "" }

type binanceTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
}

// FetchBatch uses the multi-symbol 24hr ticker endpoint; on failure it
// falls back to per-symbol calls.
func (a *BinanceAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	providerSyms := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		ps, err := a.providerSymbol(sym)
		if err != nil {
			a.logger.Printf("Warning: skipping unmapped symbol %s", sym)
			continue
		}
		providerSyms = append(providerSyms, `"`+ps+`"`)
	}
	if len(providerSyms) == 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbols=%s",
		a.cfg.BaseURL, url.QueryEscape("["+strings.Join(providerSyms, ",")+"]"))

	var tickers []binanceTicker
	if err := a.http.GetJSON(ctx, endpoint, nil, &tickers); err != nil {
		a.logger.Printf("Warning: batch ticker call failed, falling back to per-symbol: %v", err)
		return fetchEach(ctx, a, symbols, a.logger)
	}

	var out []feed.PriceObservation
	for _, tk := range tickers {
		obs, err := a.toObservation(tk)
		if err != nil {
			a.logger.Printf("Warning: dropping %s ticker: %v", tk.Symbol, err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (a *BinanceAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
	ps, err := a.providerSymbol(symbol)
	if err != nil {
		return feed.PriceObservation{}, err
	}

	endpoint := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", a.cfg.BaseURL, url.QueryEscape(ps))
	var tk binanceTicker
	if err := a.http.GetJSON(ctx, endpoint, nil, &tk); err != nil {
		return feed.PriceObservation{}, err
	}
	return a.toObservation(tk)
}

func (a *BinanceAdapter) toObservation(tk binanceTicker) (feed.PriceObservation, error) {
	canonical, ok := a.canonicalFor(tk.Symbol)
	if !ok {
		return feed.PriceObservation{}, fmt.Errorf("unexpected symbol %s in response", tk.Symbol)
	}
	price, err := parsePositiveDecimal(tk.LastPrice)
	if err != nil {
		return feed.PriceObservation{}, fmt.Errorf("bad price %q: %w", tk.LastPrice, err)
	}
	volume, err := parseNonNegativeDecimal(tk.Volume)
	if err != nil {
		return feed.PriceObservation{}, fmt.Errorf("bad volume %q: %w", tk.Volume, err)
	}
	return feed.PriceObservation{
		Symbol:    canonical,
		Source:    a.name,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"provider_symbol": tk.Symbol},
	}, nil
}
