// Package types provides common value types shared by the domain packages.
package types

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in the smallest currency unit (FCFA has no fractional unit).
// Storage: BIGINT. All comparisons are exact integer comparisons.
type Amount int64

func (a Amount) Int64() int64             { return int64(a) }
func (a Amount) IsZero() bool             { return a == 0 }
func (a Amount) IsPositive() bool         { return a > 0 }
func (a Amount) IsNegative() bool         { return a < 0 }
func (a Amount) String() string           { return strconv.FormatInt(int64(a), 10) }
func (a Amount) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(a)) }

// Sum adds amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// ParseAmount parses a non-negative integer amount.
func ParseAmount(s string) (Amount, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("amount %d is negative", v)
	}
	return Amount(v), nil
}

// Percent returns part / whole × 100 rounded to two decimals.
// Returns zero when whole is zero.
func Percent(part, whole Amount) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return part.Decimal().
		Mul(decimal.NewFromInt(100)).
		DivRound(whole.Decimal(), 2)
}
