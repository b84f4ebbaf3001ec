package trading

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPortionOf(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		pct     string
		want    string
	}{
		{"half", "1", "50", "0.5"},
		{"small holding", "0.002", "50", "0.001"},
		{"truncates", "0.123456789", "100", "0.12345678"},
		{"near full sells all", "0.3", "99.9999995", "0.3"},
		{"thirds round down", "1", "33.333333333", "0.33333333"},
		{"empty balance", "0", "50", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PortionOf(d(tc.balance), d(tc.pct))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestRoundToTick(t *testing.T) {
	assert.True(t, RoundToTick(d("95000123"), false).Equal(d("95000000")))
	assert.True(t, RoundToTick(d("95000123"), true).Equal(d("95001000")))
	assert.True(t, RoundToTick(d("1234.7"), false).Equal(d("1230")))
	assert.True(t, RoundToTick(d("1234.7"), true).Equal(d("1235")))
	assert.True(t, RoundToTick(d("0.123456"), false).Equal(d("0.123")))
	assert.True(t, RoundToTick(d("5000"), true).Equal(d("5000")))
}

func TestApplyPercent(t *testing.T) {
	assert.True(t, ApplyPercent(d("1000"), d("10")).Equal(d("1100")))
	assert.True(t, ApplyPercent(d("1000"), d("-5")).Equal(d("950")))
}
