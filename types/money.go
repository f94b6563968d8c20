// Package types provides small value types shared across IvyLab packages.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money is an amount in the smallest currency unit. Billing providers take
// integer minor units, so there is no floating point anywhere.
//
//   - USD(999) = $9.99
//   - USD(2499) = $24.99
type Money struct {
	Amount   int64  `json:"amount"   yaml:"amount"`   // cents
	Currency string `json:"currency" yaml:"currency"` // ISO 4217, lowercase
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && strings.EqualFold(m.Currency, other.Currency)
}

// FormatMajor returns the amount in major units without a symbol ("24.99").
func (m Money) FormatMajor() string {
	if zeroDecimal[strings.ToLower(m.Currency)] {
		return fmt.Sprintf("%d", m.Amount)
	}

	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, abs/100, abs%100)
}

// String returns the amount with its currency symbol ("$24.99").
func (m Money) String() string {
	if sym, ok := symbols[strings.ToLower(m.Currency)]; ok {
		return sym + m.FormatMajor()
	}
	return strings.ToUpper(m.Currency) + " " + m.FormatMajor()
}

// MarshalJSON adds a display string next to the raw amount.
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

var symbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"jpy": "¥",
	"cad": "C$",
	"aud": "A$",
}

var zeroDecimal = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
}
