package types

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/harborline/storefront-go/pkg/enums"
)

// Money is an integer minor-unit amount plus its currency. Formatted, when
// present, is the server-rendered display string and always wins over
// client-side formatting.
type Money struct {
	Amount    int64          `json:"amount"`
	Currency  enums.Currency `json:"currency"`
	Formatted string         `json:"formatted,omitempty"`
}

var currencySymbols = map[enums.Currency]string{
	enums.CurrencyUSD: "$",
	enums.CurrencyCAD: "$",
	enums.CurrencyAUD: "$",
	enums.CurrencyEUR: "€",
	enums.CurrencyGBP: "£",
	enums.CurrencyJPY: "¥",
}

// NewMoney builds a Money value without a server-formatted string.
func NewMoney(amount int64, currency enums.Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// Neg returns the negated amount, dropping any server formatting.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Add returns the sum of two amounts in m's currency. Used only for
// client-derived display lines; persisted totals come from the server.
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Sub returns the difference of two amounts in m's currency.
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Display returns the server-formatted string when present, otherwise a
// client-side rendering.
func (m Money) Display() string {
	if strings.TrimSpace(m.Formatted) != "" {
		return m.Formatted
	}
	return m.Format()
}

// Format renders the amount from minor units, e.g. -1000 USD -> "-$10.00".
func (m Money) Format() string {
	units := int32(m.Currency.MinorUnits())
	value := decimal.New(m.Amount, -units)

	symbol, ok := currencySymbols[m.Currency]
	if !ok {
		symbol = string(m.Currency) + " "
	}

	if value.IsNegative() {
		return "-" + symbol + value.Abs().StringFixed(units)
	}
	return symbol + value.StringFixed(units)
}
