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

// OKExAdapter reads spot tickers from the OKX v5 market API.
type OKExAdapter struct {
	baseAdapter
}

func NewOKExAdapter(cfg *config.Config, limiter *ratelimit.Limiter) *OKExAdapter {
	return &OKExAdapter{
		baseAdapter: newBaseAdapter(config.SourceOKEx, cfg.Sources[config.SourceOKEx],
			cfg.Symbols, cfg.SymbolMappings, limiter, nil),
	}
}

func (a *OKExAdapter) Enabled() bool { return a.cfg.BaseURL != "" }

type okexTickerResponse struct {
	Code string       `json:"code"`
	Msg  string       `json:"msg"`
	Data []okexTicker `json:"data"`
}

type okexTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Vol24h string `json:"vol24h"`
}

// FetchBatch pulls the whole SPOT ticker table in one call and filters
// it down to the requested symbols.
func (a *OKExAdapter) FetchBatch(ctx context.Context, symbols []string) ([]feed.PriceObservation, error) {
	wanted := map[string]string{} // provider symbol -> canonical
	for _, sym := range symbols {
		ps, err := a.providerSymbol(sym)
		if err != nil {
			a.logger.Printf("Warning: skipping unmapped symbol %s", sym)
			continue
		}
		wanted[ps] = sym
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/v5/market/tickers?instType=SPOT", a.cfg.BaseURL)
	var resp okexTickerResponse
	if err := a.http.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("api error code %s: %s", resp.Code, resp.Msg)}
	}

	var out []feed.PriceObservation
	for _, tk := range resp.Data {
		canonical, ok := wanted[tk.InstID]
		if !ok {
			continue
		}
		obs, err := a.toObservation(canonical, tk)
		if err != nil {
			a.logger.Printf("Warning: dropping %s ticker: %v", tk.InstID, err)
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (a *OKExAdapter) Fetch(ctx context.Context, symbol string) (feed.PriceObservation, error) {
	ps, err := a.providerSymbol(symbol)
	if err != nil {
		return feed.PriceObservation{}, err
	}

	endpoint := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", a.cfg.BaseURL, url.QueryEscape(ps))
	var resp okexTickerResponse
	if err := a.http.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return feed.PriceObservation{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return feed.PriceObservation{}, &UpstreamError{Source: a.name,
			Err: fmt.Errorf("api error code %s: %s", resp.Code, resp.Msg)}
	}
	return a.toObservation(symbol, resp.Data[0])
}

func (a *OKExAdapter) toObservation(canonical string, tk okexTicker) (feed.PriceObservation, error) {
	price, err := parsePositiveDecimal(tk.Last)
	if err != nil {
		return feed.PriceObservation{}, fmt.Errorf("bad price %q: %w", tk.Last, err)
	}
	volume, err := parseNonNegativeDecimal(tk.Vol24h)
	if err != nil {
		return feed.PriceObservation{}, fmt.Errorf("bad volume %q: %w", tk.Vol24h, err)
	}
	return feed.PriceObservation{
		Symbol:    canonical,
		Source:    a.name,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]string{"provider_symbol": tk.InstID},
	}, nil
}
