package source

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// parsePositiveDecimal parses a provider price string; zero or negative
// prices are rejected so adapters never report unusable observations.
func parsePositiveDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive value %s", d)
	}
	return d, nil
}

// parseNonNegativeDecimal parses a provider volume string; negative
// volumes are rejected, absent volumes should be passed as "0".
func parseNonNegativeDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("negative value %s", d)
	}
	return d, nil
}
