package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromString_RoundsHalfUp(t *testing.T) {
	m, err := NewFromString("10.005")
	require.NoError(t, err)
	assert.Equal(t, "10.01", m.String())

	m, err = NewFromString("10.004")
	require.NoError(t, err)
	assert.Equal(t, "10.00", m.String())
}

func TestSum_PreservesTwoDigitSemantics(t *testing.T) {
	a, _ := NewFromString("0.10")
	b, _ := NewFromString("0.20")
	c, _ := NewFromString("0.30")
	total := Sum(a, b, c)
	assert.Equal(t, "0.60", total.String())
}

func TestPercentOf_NoFloatingDust(t *testing.T) {
	m, _ := NewFromString("1999.99")
	pct := decimal.NewFromInt(18)
	result := m.PercentOf(pct)
	// 1999.99 * 0.18 = 359.9982 -> rounds to 359.998... -> 360.00 (half up)
	assert.Equal(t, "360.00", result.String())
}

func TestJSONRoundTrip(t *testing.T) {
	m, _ := NewFromString("42.50")
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"42.50"`, string(b))

	var back Money
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 0, m.Cmp(back))
}

func TestPerDay(t *testing.T) {
	rate, _ := NewFromString("5.00")
	assert.Equal(t, "0.00", PerDay(rate, 0).String())
	assert.Equal(t, "0.00", PerDay(rate, -3).String())
	assert.Equal(t, "15.00", PerDay(rate, 3).String())
}

func TestGreaterThanAndMax(t *testing.T) {
	a, _ := NewFromString("10.00")
	b, _ := NewFromString("5.00")
	assert.True(t, a.GreaterThan(b))
	assert.Equal(t, a, Max(a, b))
}
