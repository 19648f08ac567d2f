package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Numeric renders an amount for a NUMERIC(18,2) column.
func Numeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseNumeric converts a NUMERIC column selected as text.
func ParseNumeric(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("platform/db: parse numeric %q: %w", raw, err)
	}
	return d, nil
}

// NullInt converts an optional identifier for insertion.
func NullInt(v *int64) any {
	if v == nil || *v == 0 {
		return nil
	}
	return *v
}
