package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultCurrency is used when neither the provider nor the plan names one.
const DefaultCurrency = "usd"

// Money is an amount in the smallest unit of its currency (cents for usd).
// Arithmetic is integer-only.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"` // ISO 4217, lower case
}

// New returns Money with the currency normalized to lower case.
// An empty currency becomes DefaultCurrency.
func New(amount int64, currency string) Money {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// USD is shorthand for New(cents, "usd").
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return New(0, currency) }

// Add panics if the currencies differ.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract panics if the currencies differ.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Prorate returns floor(m * part / whole). A non-positive whole yields zero.
func (m Money) Prorate(part, whole int64) Money {
	if whole <= 0 || part <= 0 {
		return Money{Currency: m.Currency}
	}
	return Money{Amount: m.Amount * part / whole, Currency: m.Currency}
}

// Clamp bounds the amount to [lo, hi] (hi < lo is treated as hi = lo).
func (m Money) Clamp(lo, hi int64) Money {
	if hi < lo {
		hi = lo
	}
	switch {
	case m.Amount < lo:
		m.Amount = lo
	case m.Amount > hi:
		m.Amount = hi
	}
	return m
}

// Min returns the smaller amount. Panics if the currencies differ.
func (m Money) Min(other Money) Money {
	m.assertSameCurrency(other)
	if other.Amount < m.Amount {
		return other
	}
	return m
}

// Max returns the larger amount. Panics if the currencies differ.
func (m Money) Max(other Money) Money {
	m.assertSameCurrency(other)
	if other.Amount > m.Amount {
		return other
	}
	return m
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

// FormatMajor renders the amount in major units: "49.00" for USD(4900),
// "100" for 100 jpy.
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	sign := ""
	abs := m.Amount
	if abs < 0 {
		sign = "-"
		abs = -abs
	}

	return fmt.Sprintf("%s%d.%02d", sign, abs/100, abs%100)
}

// String renders "12.34 USD".
func (m Money) String() string {
	return m.FormatMajor() + " " + strings.ToUpper(m.Currency)
}

// MarshalJSON adds a display field next to amount and currency.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{m.Amount, m.Currency, m.String()})
}

// UnmarshalJSON accepts the MarshalJSON shape and ignores display.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = New(raw.Amount, raw.Currency)
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp", "pyg", "idr":
		return 0
	default:
		return 2
	}
}
