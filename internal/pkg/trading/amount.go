// Package trading provides order size and price rounding for KRW spot markets.
package trading

import "github.com/shopspring/decimal"

// QuantityPlaces is the finest volume increment the exchange accepts.
const QuantityPlaces int32 = 8

var (
	hundred = decimal.NewFromInt(100)
	// FullPercent is the threshold above which a percentage means "everything".
	FullPercent = decimal.RequireFromString("99.999999")
)

// TruncateQuantity rounds a volume toward zero to the exchange increment.
func TruncateQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(QuantityPlaces)
}

// FloorKRW drops the fractional won of a quote amount.
func FloorKRW(amount decimal.Decimal) decimal.Decimal {
	return amount.Floor()
}

// PortionOf returns pct percent of balance, rounded toward zero and capped at
// balance. Percentages at or above FullPercent return the whole balance.
func PortionOf(balance, pct decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() || !pct.IsPositive() {
		return decimal.Zero
	}
	if pct.GreaterThanOrEqual(FullPercent) {
		return TruncateQuantity(balance)
	}
	amount := TruncateQuantity(balance.Mul(pct).Div(hundred))
	if amount.GreaterThan(balance) {
		amount = balance
	}
	return amount
}

// ApplyPercent returns base * (1 + pct/100). Negative pct moves below base.
func ApplyPercent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

type tickBand struct {
	floor decimal.Decimal
	tick  decimal.Decimal
}

var krwTicks = []tickBand{
	{decimal.NewFromInt(2_000_000), decimal.NewFromInt(1000)},
	{decimal.NewFromInt(1_000_000), decimal.NewFromInt(500)},
	{decimal.NewFromInt(500_000), decimal.NewFromInt(100)},
	{decimal.NewFromInt(100_000), decimal.NewFromInt(50)},
	{decimal.NewFromInt(10_000), decimal.NewFromInt(10)},
	{decimal.NewFromInt(1_000), decimal.NewFromInt(5)},
	{decimal.NewFromInt(100), decimal.NewFromInt(1)},
	{decimal.NewFromInt(10), decimal.RequireFromString("0.1")},
	{decimal.NewFromInt(1), decimal.RequireFromString("0.01")},
	{decimal.RequireFromString("0.1"), decimal.RequireFromString("0.001")},
	{decimal.RequireFromString("0.01"), decimal.RequireFromString("0.0001")},
	{decimal.RequireFromString("0.001"), decimal.RequireFromString("0.00001")},
	{decimal.RequireFromString("0.0001"), decimal.RequireFromString("0.000001")},
	{decimal.RequireFromString("0.00001"), decimal.RequireFromString("0.0000001")},
}

// KRWTickSize returns the order price unit for a KRW market price.
func KRWTickSize(price decimal.Decimal) decimal.Decimal {
	for _, band := range krwTicks {
		if price.GreaterThanOrEqual(band.floor) {
			return band.tick
		}
	}
	return decimal.New(1, -QuantityPlaces)
}

// RoundToTick snaps price onto the KRW tick grid, down when up is false.
func RoundToTick(price decimal.Decimal, up bool) decimal.Decimal {
	if !price.IsPositive() {
		return price
	}
	tick := KRWTickSize(price)
	steps := price.Div(tick).Floor()
	snapped := steps.Mul(tick)
	if up && snapped.LessThan(price) {
		snapped = snapped.Add(tick)
	}
	return snapped
}
