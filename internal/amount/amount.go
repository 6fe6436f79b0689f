// Package amount converts between token atoms and human-readable decimals.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimal scales atoms down by 10^decimals.
func ToDecimal(atoms *big.Int, decimals int32) decimal.Decimal {
	if atoms == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(atoms, -decimals)
}

// Format renders atoms with trailing zeros trimmed.
func Format(atoms *big.Int, decimals int32) string {
	return ToDecimal(atoms, decimals).String()
}

// FormatFixed renders atoms with exactly places fractional digits, truncating.
func FormatFixed(atoms *big.Int, decimals, places int32) string {
	return ToDecimal(atoms, decimals).Truncate(places).StringFixed(places)
}

// Parse reads a decimal string such as "12.5" into atoms. A "wei:" prefix
// takes the remainder as raw atoms.
func Parse(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if raw, ok := strings.CutPrefix(s, "wei:"); ok {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("parse amount %q: not an integer", s)
		}
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	atoms := d.Shift(decimals)
	if !atoms.IsInteger() {
		return nil, errors.New("amount has more fractional digits than the token supports")
	}
	return atoms.BigInt(), nil
}
