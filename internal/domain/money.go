package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ─── Money ──────────────────────────────────────────────────────────────────
// One fixed-point currency type with one rounding policy. Arithmetic is exact
// (arbitrary precision); Round applies banker's rounding to MoneyPlaces.

// MoneyPlaces is the number of decimal places money values are rounded to.
const MoneyPlaces = 2

// Money is a currency amount.
type Money struct {
	amount decimal.Decimal
}

// ZeroMoney is the zero amount.
var ZeroMoney = Money{}

// NewMoney parses a decimal string such as "1234.56".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return Money{amount: d}, nil
}

// MustMoney is NewMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MoneyFromInt returns a whole-unit amount.
func MoneyFromInt(units int64) Money {
	return Money{amount: decimal.NewFromInt(units)}
}

// MoneyFromDecimal wraps an existing decimal.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{amount: d}
}

func (m Money) Add(o Money) Money { return Money{amount: m.amount.Add(o.amount)} }
func (m Money) Sub(o Money) Money { return Money{amount: m.amount.Sub(o.amount)} }

// Percent returns m * p/100 without rounding.
func (m Money) Percent(p Percentage) Money {
	return Money{amount: m.amount.Mul(p.value).Shift(-2)}
}

// Round applies the money rounding policy: half-even, two decimals.
func (m Money) Round() Money {
	return Money{amount: m.amount.RoundBank(MoneyPlaces)}
}

// NonNegative clamps negative amounts to zero.
func (m Money) NonNegative() Money {
	if m.amount.IsNegative() {
		return ZeroMoney
	}
	return m
}

func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money) Cmp(o Money) int         { return m.amount.Cmp(o.amount) }
func (m Money) Equal(o Money) bool      { return m.amount.Equal(o.amount) }
func (m Money) Decimal() decimal.Decimal { return m.amount }

// String renders the amount with exactly two decimals (rounded half-even).
func (m Money) String() string {
	return m.amount.StringFixedBank(MoneyPlaces)
}

// MarshalJSON encodes the exact amount as a JSON string.
func (m Money) MarshalJSON() ([]byte, error) {
	return m.amount.MarshalJSON()
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.amount.UnmarshalJSON(b)
}

// ─── Percentage ─────────────────────────────────────────────────────────────

// Percentage is a rate expressed in percent (18 means 18%).
type Percentage struct {
	value decimal.Decimal
}

// NewPercentage parses a decimal string such as "4.5".
func NewPercentage(s string) (Percentage, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percentage{}, fmt.Errorf("parse percentage %q: %w", s, err)
	}
	return Percentage{value: d}, nil
}

// MustPercentage is NewPercentage for literals; it panics on malformed input.
func MustPercentage(s string) Percentage {
	p, err := NewPercentage(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Pct returns a whole-number percentage.
func Pct(v int64) Percentage {
	return Percentage{value: decimal.NewFromInt(v)}
}

// HundredPercent is 100%.
var HundredPercent = Pct(100)

func (p Percentage) Add(o Percentage) Percentage { return Percentage{value: p.value.Add(o.value)} }
func (p Percentage) Sub(o Percentage) Percentage { return Percentage{value: p.value.Sub(o.value)} }
func (p Percentage) Cmp(o Percentage) int        { return p.value.Cmp(o.value) }
func (p Percentage) Equal(o Percentage) bool     { return p.value.Equal(o.value) }
func (p Percentage) IsZero() bool                { return p.value.IsZero() }
func (p Percentage) Decimal() decimal.Decimal    { return p.value }

// InRange reports whether p lies in [0, 100].
func (p Percentage) InRange() bool {
	return !p.value.IsNegative() && p.value.Cmp(HundredPercent.value) <= 0
}

func (p Percentage) String() string {
	return p.value.String() + "%"
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	return p.value.MarshalJSON()
}

func (p *Percentage) UnmarshalJSON(b []byte) error {
	return p.value.UnmarshalJSON(b)
}
