// Copyright 2025 Certen Protocol
//
// Price Aggregator - reduces per-source observations to one
// authoritative price per symbol.
//
// Per symbol the aggregator:
// - Filters outliers by median absolute deviation with a sample-size
//   adaptive threshold
// - Computes a volume-weighted average when volume data exists,
//   otherwise the arithmetic mean
// - Assigns a confidence score from retained-source count and dispersion
// - Keeps the retained observations as provenance

package aggregator

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tee-oracle/neo-price-feed/pkg/feed"
)

// Aggregator computes authoritative prices from raw observations.
type Aggregator struct {
	logger *log.Logger
}

// New creates an aggregator.
func New(logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Aggregator] ", log.LstdFlags)
	}
	return &Aggregator{logger: logger}
}

// Aggregate produces one AggregatedPrice per symbol that has at least
// one observation. The output order is deterministic (symbols
// ascending).
func (a *Aggregator) Aggregate(observations map[string][]feed.PriceObservation) []feed.AggregatedPrice {
	symbols := make([]string, 0, len(observations))
	for sym := range observations {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := make([]feed.AggregatedPrice, 0, len(symbols))
	for _, sym := range symbols {
		obs := observations[sym]
		if len(obs) == 0 {
			a.logger.Printf("Warning: symbol %s has no usable observations, dropping", sym)
			continue
		}
		out = append(out, a.aggregateSymbol(sym, obs))
	}
	return out
}

func (a *Aggregator) aggregateSymbol(symbol string, obs []feed.PriceObservation) feed.AggregatedPrice {
	sorted := make([]feed.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Price.Equal(sorted[j].Price) {
			return sorted[i].Price.LessThan(sorted[j].Price)
		}
		return sorted[i].Source < sorted[j].Source
	})

	m := medianPrice(sorted)
	mad := medianAbsoluteDeviation(sorted, m)
	retained := filterOutliers(sorted, m, mad)

	if len(retained) == 0 {
		// Can only happen with an ill-configured threshold; fall back
		// to the raw median.
		a.logger.Printf("Warning: outlier filter retained nothing for %s, falling back to raw median", symbol)
		retained = sorted
	} else if len(retained) < len(sorted) {
		a.logger.Printf("Warning: dropped %d outlier observation(s) for %s (median=%s, mad=%s)",
			len(sorted)-len(retained), symbol, m, mad)
	}

	price := authoritativePrice(retained)
	confidence := confidenceScore(retained)

	var latest time.Time
	for _, o := range retained {
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}

	provenance := make([]feed.PriceObservation, len(retained))
	copy(provenance, retained)
	sort.Slice(provenance, func(i, j int) bool {
		return provenance[i].Source < provenance[j].Source
	})

	return feed.AggregatedPrice{
		Symbol:          symbol,
		Price:           price,
		Timestamp:       latest,
		ConfidenceScore: confidence,
		SourceData:      provenance,
	}
}

// thresholdMultiplier returns the MAD multiplier for a sample size; a
// zero return disables filtering.
func thresholdMultiplier(n int) decimal.Decimal {
	switch {
	case n <= 2:
		return decimal.Zero
	case n == 3:
		return decimal.NewFromFloat(2.5)
	case n <= 5:
		return decimal.NewFromFloat(3.0)
	default:
		return decimal.NewFromFloat(2.0)
	}
}

// filterOutliers retains observations within k*mad of the median.
// When mad is zero all observations agree and everything is retained.
func filterOutliers(sorted []feed.PriceObservation, median, mad decimal.Decimal) []feed.PriceObservation {
	k := thresholdMultiplier(len(sorted))
	if k.IsZero() || mad.IsZero() {
		return sorted
	}

	threshold := k.Mul(mad)
	var retained []feed.PriceObservation
	for _, o := range sorted {
		if o.Price.Sub(median).Abs().LessThanOrEqual(threshold) {
			retained = append(retained, o)
		}
	}
	return retained
}

// medianPrice computes the median of price-sorted observations; an even
// count averages the two middle values.
func medianPrice(sorted []feed.PriceObservation) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2].Price
	}
	two := decimal.NewFromInt(2)
	return sorted[n/2-1].Price.Add(sorted[n/2].Price).Div(two)
}

func medianAbsoluteDeviation(sorted []feed.PriceObservation, median decimal.Decimal) decimal.Decimal {
	devs := make([]decimal.Decimal, len(sorted))
	for i, o := range sorted {
		devs[i] = o.Price.Sub(median).Abs()
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].LessThan(devs[j]) })

	n := len(devs)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return devs[n/2]
	}
	two := decimal.NewFromInt(2)
	return devs[n/2-1].Add(devs[n/2]).Div(two)
}

// authoritativePrice is the volume-weighted average when any retained
// observation carries positive volume, otherwise the arithmetic mean.
func authoritativePrice(retained []feed.PriceObservation) decimal.Decimal {
	totalVolume := decimal.Zero
	weighted := decimal.Zero
	sum := decimal.Zero
	for _, o := range retained {
		sum = sum.Add(o.Price)
		if o.Volume.Sign() > 0 {
			totalVolume = totalVolume.Add(o.Volume)
			weighted = weighted.Add(o.Price.Mul(o.Volume))
		}
	}

	if totalVolume.Sign() > 0 {
		return weighted.Div(totalVolume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(retained))))
}

// confidenceScore maps retained-source count and dispersion to [0,100].
func confidenceScore(retained []feed.PriceObservation) int {
	switch len(retained) {
	case 1:
		return 60
	case 2:
		return 80
	}

	cv := coefficientOfVariation(retained)
	if cv <= 0.01 {
		return 100
	}
	score := 90 - int(math.Round(math.Min(cv, 0.05)*400))
	if score < 70 {
		return 70
	}
	if score > 95 {
		return 95
	}
	return score
}

// coefficientOfVariation is stddev/mean over the retained prices,
// computed in float64 (dispersion needs a square root, and confidence
// granularity does not warrant arbitrary precision).
func coefficientOfVariation(retained []feed.PriceObservation) float64 {
	n := float64(len(retained))
	var sum float64
	for _, o := range retained {
		sum += o.Price.InexactFloat64()
	}
	mean := sum / n
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, o := range retained {
		d := o.Price.InexactFloat64() - mean
		sq += d * d
	}
	return math.Sqrt(sq/n) / mean
}
