// Package types provides common types used across Tally.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// BpsDenominator is the number of basis points in one whole (100%).
const BpsDenominator = 10_000

// ErrOverflow is returned by checked arithmetic when an int64 would overflow.
var ErrOverflow = errors.New("money: arithmetic overflow")

// Money represents an amount in the smallest unit of an asset.
// All arithmetic is integer-only.
//
// Currency holds the asset code: a fiat ISO 4217 code ("usd") or any
// settlement asset the platform whitelists ("usdc", "eth").
//
// Examples:
//   - USD(4900) = $49.00 (4900 cents)
//   - New(150, "usdc") = 150 base units of usdc
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit
	Currency string `json:"currency"` // Asset code, lowercase
}

// New creates a Money value for an arbitrary asset code.
func New(amount int64, asset string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(asset)}
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// Zero returns a zero Money value in the specified asset.
func Zero(asset string) Money { return Money{Amount: 0, Currency: strings.ToLower(asset)} }

// Add adds two Money values. Panics if assets don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if assets don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// Bps returns amount*bps/10000 using integer division (rounds toward zero).
func (m Money) Bps(bps int64) Money {
	return Money{Amount: MulBps(m.Amount, bps), Currency: m.Currency}
}

// LessBps returns the amount reduced by bps basis points.
func (m Money) LessBps(bps int64) Money {
	return Money{Amount: m.Amount - MulBps(m.Amount, bps), Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and asset).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if assets don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// GreaterThan returns true if this Money is greater than other. Panics if assets don't match.
func (m Money) GreaterThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount > other.Amount
}

// FormatMajor returns the major unit string without symbol.
// Fiat codes with 2 decimals format as "49.00"; zero-decimal and
// non-fiat assets format as the raw integer.
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	divisor := int64(1)
	for i := 0; i < decimals; i++ {
		divisor *= 10
	}

	isNegative := m.Amount < 0
	absAmount := m.Amount
	if isNegative {
		absAmount = -absAmount
	}

	major := absAmount / divisor
	minor := absAmount % divisor

	format := fmt.Sprintf("%%d.%%0%dd", decimals)
	result := fmt.Sprintf(format, major, minor)

	if isNegative {
		return "-" + result
	}
	return result
}

// String returns a human-readable string.
// Examples: "$49.00", "€199.00", "150 USDC"
func (m Money) String() string {
	if sym, ok := currencySymbol(m.Currency); ok {
		return sym + m.FormatMajor()
	}
	return m.FormatMajor() + " " + strings.ToUpper(m.Currency)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

// assertSameCurrency panics if assets don't match.
func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

// MulBps returns amount*bps/10000 without intermediate overflow for
// amounts up to math.MaxInt64.
func MulBps(amount, bps int64) int64 {
	q, r := amount/BpsDenominator, amount%BpsDenominator
	return q*bps + r*bps/BpsDenominator
}

// CheckedMul multiplies a and b, returning ErrOverflow instead of wrapping.
func CheckedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrOverflow
	}
	return c, nil
}

// CheckedAdd adds a and b, returning ErrOverflow instead of wrapping.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func currencySymbol(currency string) (string, bool) {
	symbols := map[string]string{
		"usd": "$",
		"eur": "€",
		"gbp": "£",
		"jpy": "¥",
		"cad": "C$",
		"aud": "A$",
	}
	sym, ok := symbols[strings.ToLower(currency)]
	return sym, ok
}

// currencyDecimals returns the number of decimal places used for display.
func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "usd", "eur", "gbp", "cad", "aud", "chf", "nzd", "sek":
		return 2
	default:
		// Yen-like fiat and on-chain assets are displayed in base units.
		return 0
	}
}

// Sum calculates the sum of multiple Money values. All must share an asset.
func Sum(asset string, values ...Money) Money {
	result := Zero(asset)
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
