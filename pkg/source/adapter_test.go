// Copyright 2025 Certen Protocol
//
// Unit tests for adapter symbol mapping and response parsing against
// stub provider endpoints.

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tee-oracle/neo-price-feed/pkg/config"
	"github.com/tee-oracle/neo-price-feed/pkg/ratelimit"
)

func adapterConfig(baseURL string) *config.Config {
	cfg := &config.Config{
		Symbols: []string{"BTCUSDT", "ETHUSDT", "NEOUSDT"},
		SymbolMappings: config.SymbolMappings{
			"BTCUSDT": {
				config.SourceBinance:  "BTCUSDT",
				config.SourceCoinbase: "BTC-USD",
				config.SourceOKEx:     "BTC-USDT",
			},
			"ETHUSDT": {
				config.SourceBinance: "ETHUSDT",
				config.SourceOKEx:    "ETH-USDT",
			},
			"NEOUSDT": {
				// Not supported by binance: empty provider symbol.
				config.SourceBinance: "",
				config.SourceOKEx:    "NEO-USDT",
			},
		},
		Sources: map[string]config.SourceConfig{},
	}
	for _, name := range config.KnownSources {
		cfg.Sources[name] = config.SourceConfig{BaseURL: baseURL, TimeoutSeconds: 2, TokensPerSecond: 1000}
	}
	return cfg
}

func TestSupportedSymbolsSkipEmptyMappings(t *testing.T) {
	cfg := adapterConfig("http://localhost:0")
	a := NewBinanceAdapter(cfg, ratelimit.New(1000))

	supported := a.SupportedSymbols()
	for _, sym := range supported {
		if sym == "NEOUSDT" {
			t.Error("Symbol with empty provider mapping must be excluded")
		}
	}
	if len(supported) != 2 {
		t.Errorf("Expected 2 supported symbols, got %v", supported)
	}
}

func TestFetchUnmappedSymbolFails(t *testing.T) {
	cfg := adapterConfig("http://localhost:0")
	a := NewBinanceAdapter(cfg, ratelimit.New(1000))

	_, err := a.Fetch(context.Background(), "NEOUSDT")
	if !errors.Is(err, ErrUnsupportedSymbol) {
		t.Errorf("Expected ErrUnsupportedSymbol, got %v", err)
	}
}

func TestBinanceBatchParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol": "BTCUSDT", "lastPrice": "50000.12", "volume": "321.5"},
			{"symbol": "ETHUSDT", "lastPrice": "3000.00", "volume": "0"}
		]`))
	}))
	defer srv.Close()

	cfg := adapterConfig(srv.URL)
	a := NewBinanceAdapter(cfg, ratelimit.New(1000))

	obs, err := a.FetchBatch(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(obs))
	}
	for _, o := range obs {
		if o.Source != config.SourceBinance {
			t.Errorf("Wrong source %s", o.Source)
		}
		if o.Price.Sign() <= 0 {
			t.Errorf("Non-positive price for %s", o.Symbol)
		}
	}
}

func TestBinanceMalformedPriceIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol": "BTCUSDT", "lastPrice": "not-a-number", "volume": "1"},
			{"symbol": "ETHUSDT", "lastPrice": "3000.00", "volume": "0"}
		]`))
	}))
	defer srv.Close()

	cfg := adapterConfig(srv.URL)
	a := NewBinanceAdapter(cfg, ratelimit.New(1000))

	obs, err := a.FetchBatch(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(obs) != 1 || obs[0].Symbol != "ETHUSDT" {
		t.Errorf("Expected only the well-formed observation, got %v", obs)
	}
}

func TestOKExBatchFiltersToRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "0", "data": [
			{"instId": "BTC-USDT", "last": "50000", "vol24h": "10"},
			{"instId": "DOGE-USDT", "last": "0.1", "vol24h": "99"}
		]}`))
	}))
	defer srv.Close()

	cfg := adapterConfig(srv.URL)
	a := NewOKExAdapter(cfg, ratelimit.New(1000))

	obs, err := a.FetchBatch(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("FetchBatch failed: %v", err)
	}
	if len(obs) != 1 || obs[0].Symbol != "BTCUSDT" {
		t.Errorf("Expected only BTCUSDT, got %v", obs)
	}
}

func TestCoinbaseSpotParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"amount": "50123.45"}}`))
	}))
	defer srv.Close()

	cfg := adapterConfig(srv.URL)
	a := NewCoinbaseAdapter(cfg, ratelimit.New(1000))

	obs, err := a.Fetch(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if obs.Volume.Sign() != 0 {
		t.Error("Coinbase spot carries no volume")
	}
	if obs.Metadata["provider_symbol"] != "BTC-USD" {
		t.Errorf("Provider symbol metadata missing, got %v", obs.Metadata)
	}
}

func TestCoinMarketCapDisabledWithoutKey(t *testing.T) {
	cfg := adapterConfig("http://localhost:0")
	a := NewCoinMarketCapAdapter(cfg, ratelimit.New(1000))
	if a.Enabled() {
		t.Error("CoinMarketCap must be disabled without an API key")
	}

	withKey := adapterConfig("http://localhost:0")
	sc := withKey.Sources[config.SourceCoinMarketCap]
	sc.APIKey = "test-key"
	withKey.Sources[config.SourceCoinMarketCap] = sc
	if !NewCoinMarketCapAdapter(withKey, ratelimit.New(1000)).Enabled() {
		t.Error("CoinMarketCap must be enabled with an API key")
	}
}
