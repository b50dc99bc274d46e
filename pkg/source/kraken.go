package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/feed"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

// KrakenAdapter reads tickers from the Kraken public API. Kraken
// normalizes pair names in its responses, so each pair is requested
// separately and matched by taking the single result entry.
type KrakenAdapter struct {
	baseAdapter
}

func NewKrakenAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *KrakenAdapter {
	return &KrakenAdapter{
		baseAdapter: newBaseAdapter(config.SourceKraken, cfg.Sources[config.SourceKraken],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *KrakenAdapter) Enabled() bool { return a.cfg.BaseURL != "" }

func (a *KrakenAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	return fetchEach(ctx, a, symbols, a.logger)
}

func (a *KrakenAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
	ps, err := a.providerSymbol(symbol)
	if err != nil {
		return feed.PriceObservation{}, err
	}

	endpoint := fmt.Sprintf("%s/0/public/Ticker?pair=%s", a.cfg.BaseURL, url.QueryEscape(ps))
	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			LastTrade []string `json:"c"`
			Volume    []string `json:"v"`
		} `json:"result"`
	}
	if err := a.http.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return feed.PriceObservation{}, err
	}
	if len(resp.Error) > 0 {
		return feed.PriceObservation{}, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("api error: %v", resp.Error)}
	}

	// One pair requested, one result entry expected; the key is
	// Kraken's normalized pair name.
	for pair, tk := range resp.Result {
		if len(tk.LastTrade) == 0 {
			return feed.PriceObservation{}, &UpstreamError{Source: a.name,
				Err: fmt.Errorf("empty ticker for %s", pair)}
		}
		price, err := parsePositiveDecimal(tk.LastTrade[0])
		if err != nil {
			return feed.PriceObservation{}, &UpstreamError{Source: a.name,
				Err: fmt.Errorf("bad price %q: %w", tk.LastTrade[0], err)}
		}
		volume := "0"
		if len(tk.Volume) > 1 {
			volume = tk.Volume[1] // 24h rolling volume
		}
		vol, err := parseNonNegativeDecimal(volume)
		if err != nil {
			return feed.PriceObservation{}, &UpstreamError{Source: a.name,
				Err: fmt.Errorf("bad volume %q: %w", volume, err)}
		}
		return feed.PriceObservation{
			Symbol:    symbol,
			Source:    a.name,
			Price:     price,
			Volume:    vol,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]string{"provider_symbol": pair},
		}, nil
	}
	return feed.PriceObservation{}, &UpstreamError{Source: a.name,
		Err: fmt.Errorf("no ticker data for %s", ps)}
}
