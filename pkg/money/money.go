// Package money provides a fixed-precision decimal type for all monetary
// values in the core. Every value is stored and serialized with exactly two
// fractional digits using half-up rounding; intermediate computations (e.g.
// percentage splits) use the full precision shopspring/decimal provides
// before the final cast back to two digits.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Money value is stored with.
const Scale = 2

// Money wraps a decimal.Decimal rounded to Scale fractional digits. The zero
// value is zero money, safe to use directly.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money value from a decimal, rounding half-up to Scale digits.
func New(d decimal.Decimal) Money {
	return Money{d: d.Round(Scale)}
}

// NewFromString parses a decimal string (e.g. "1234.5") into Money.
func NewFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// NewFromFloat builds Money from a float64. Callers at the edge of the
// system that receive JSON numbers should prefer NewFromString where
// possible; this exists for convenience at boundaries that only have floats.
func NewFromFloat(f float64) Money {
	return New(decimal.NewFromFloat(f))
}

// NewFromInt builds Money representing a whole-unit integer amount (e.g.
// NewFromInt(100) == "100.00").
func NewFromInt(i int64) Money {
	return New(decimal.NewFromInt(i))
}

// Decimal exposes the underlying decimal.Decimal for callers that need to
// hand it to a SQL driver or another decimal-aware library.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Add returns m + other, rounded to Scale digits.
func (m Money) Add(other Money) Money { return New(m.d.Add(other.d)) }

// Sub returns m - other, rounded to Scale digits.
func (m Money) Sub(other Money) Money { return New(m.d.Sub(other.d)) }

// Neg returns -m.
func (m Money) Neg() Money { return New(m.d.Neg()) }

// Cmp returns -1, 0, or 1 comparing m to other.
func (m Money) Cmp(other Money) int { return m.d.Cmp(other.d) }

// IsZero reports whether m is exactly zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool { return m.d.Cmp(other.d) > 0 }

// Max returns the larger of a and b.
func Max(a, b Money) Money {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds a slice of Money values, preserving two-digit semantics at every
// step so that rounding error cannot accumulate across a long sum.
func Sum(values ...Money) Money {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// PercentOf computes pct% of m using 40-digit-class intermediate precision
// (the division by 100 is rounded to 40 places with DivRound) and casts the
// final result back to Scale digits. pct is e.g. decimal.NewFromInt(18)
// for 18%.
func (m Money) PercentOf(pct decimal.Decimal) Money {
	hundred := decimal.NewFromInt(100)
	intermediate := m.d.DivRound(hundred, 40).Mul(pct)
	return New(intermediate)
}

// PerDay multiplies a per-day rate by a whole number of days. Used for late
// fee accrual: late_fee_per_day * max(0, days).
func PerDay(perDay Money, days int) Money {
	if days <= 0 {
		return Zero
	}
	return New(perDay.d.Mul(decimal.NewFromInt(int64(days))))
}

// String renders the value with exactly two fractional digits.
func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

// MarshalJSON renders Money as a JSON string ("123.45") rather than a JSON
// number, so that no client-side binary-float rounding can sneak in.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a JSON string or a JSON number for leniency
// against older clients, always rounding to Scale digits on the way in.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*m = Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: invalid JSON amount %q: %w", s, err)
	}
	*m = New(d)
	return nil
}

// Value implements driver.Valuer so Money can be written directly by
// sqlx/lib-pq as a numeric column.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan implements sql.Scanner so Money can be read directly from a numeric
// or text column.
func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", string(v), err)
		}
		*m = New(d)
		return nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("money: scan %q: %w", v, err)
		}
		*m = New(d)
		return nil
	case float64:
		*m = New(decimal.NewFromFloat(v))
		return nil
	default:
		return fmt.Errorf("money: unsupported scan source %T", src)
	}
}
