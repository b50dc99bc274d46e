package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Source names understood by the adapter registry.
const (
	SourceBinance       = "binance"
	SourceCoinbase      = "coinbase"
	SourceOKEx          = "okex"
	SourceKraken        = "kraken"
	SourceCoinGecko     = "coingecko"
	SourceCoinMarketCap = "coinmarketcap"
)

// KnownSources lists every source the registry can construct.
var KnownSources = []string{
	SourceBinance,
	SourceCoinbase,
	SourceOKEx,
	SourceKraken,
	SourceCoinGecko,
	SourceCoinMarketCap,
}

var defaultBaseURLs = map[string]string{
	SourceBinance:       "https://api.binance.com",
	SourceCoinbase:      "https://api.coinbase.com",
	SourceOKEx:          "https://www.okx.com",
	SourceKraken:        "https://api.kraken.com",
	SourceCoinGecko:     "https://api.coingecko.com",
	SourceCoinMarketCap: "https://pro-api.coinmarketcap.com",
}

// SymbolMappings maps canonical symbol -> source name -> provider-native
// symbol. An empty provider symbol means the source does not support the
// canonical symbol and adapters must skip it.
type SymbolMappings map[string]map[string]string

// ProviderSymbol returns the provider-native symbol for (canonical,
// source), or "" when unmapped.
func (m SymbolMappings) ProviderSymbol(canonical, source string) string {
	if bySource, ok := m[canonical]; ok {
		return bySource[source]
	}
	return ""
}

// SupportedBy returns the canonical symbols with a non-empty mapping for
// the given source, sorted for deterministic iteration.
func (m SymbolMappings) SupportedBy(source string, symbols []string) []string {
	var out []string
	for _, sym := range symbols {
		if m.ProviderSymbol(sym, source) != "" {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// symbolFile is the on-disk YAML shape of the symbol configuration.
type symbolFile struct {
	Symbols  []string                     `yaml:"symbols"`
	Mappings map[string]map[string]string `yaml:"symbolMappings"`
}

// LoadSymbolConfig reads the symbol list and mapping table from a YAML
// file. A symbol without a mapping entry fails the whole load so the
// mismatch is caught at startup rather than mid-cycle.
func LoadSymbolConfig(path string) ([]string, SymbolMappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var f symbolFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(f.Symbols) == 0 {
		return nil, nil, fmt.Errorf("symbol file lists no symbols")
	}

	mappings := SymbolMappings(f.Mappings)
	for _, sym := range f.Symbols {
		if _, ok := mappings[sym]; !ok {
			return nil, nil, fmt.Errorf("symbol %s has no mapping entry", sym)
		}
	}
	return f.Symbols, mappings, nil
}

// ValidateMappings checks the mapping table against the symbol list and
// known source names. Used by the --test-symbol-mappings command.
func ValidateMappings(symbols []string, mappings SymbolMappings) error {
	known := map[string]bool{}
	for _, s := range KnownSources {
		known[s] = true
	}

	for _, sym := range symbols {
		if !IsCanonicalSymbol(sym) {
			return fmt.Errorf("symbol %q is not canonical", sym)
		}
		bySource, ok := mappings[sym]
		if !ok {
			return fmt.Errorf("symbol %s has no mapping entry", sym)
		}
		mapped := 0
		for source, provider := range bySource {
			if !known[source] {
				return fmt.Errorf("symbol %s maps unknown source %q", sym, source)
			}
			if provider != "" {
				mapped++
			}
		}
		if mapped == 0 {
			return fmt.Errorf("symbol %s is not supported by any source", sym)
		}
	}
	return nil
}
