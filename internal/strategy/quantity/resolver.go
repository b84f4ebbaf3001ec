// Package quantity turns a rule's quantity specification into a concrete,
// exchange-acceptable order size.
package quantity

import (
	"fmt"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/pkg/trading"
	"upbitmt/internal/rule"

	"github.com/shopspring/decimal"
)

// DefaultMinNotional is the smallest KRW order the exchange accepts.
var DefaultMinNotional = decimal.NewFromInt(5000)

var hundred = decimal.NewFromInt(100)

type Resolver struct {
	minNotional decimal.Decimal
}

type Option func(*Resolver)

func WithMinNotional(v decimal.Decimal) Option {
	return func(r *Resolver) {
		if v.IsPositive() {
			r.minNotional = v
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{minNotional: DefaultMinNotional}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve sizes the order for r against this tick's price and portfolio.
// All rounding is toward zero. The returned intent has no identifier yet.
func (res *Resolver) Resolve(r rule.WatchRule, price exchange.PriceSnapshot, pf exchange.Portfolio) (exchange.OrderIntent, error) {
	side := r.TradeType.Side()
	mode := r.PriceMode
	if !mode.IsMarket() {
		// buy limits round down, sell limits round up
		mode = exchange.LimitPrice(trading.RoundToTick(mode.Limit, side == exchange.SideSell))
	}
	execPrice := price.Price
	if !mode.IsMarket() {
		execPrice = mode.Limit
	}
	if !execPrice.IsPositive() {
		return exchange.OrderIntent{}, fmt.Errorf("%w: no usable price for %s", exchange.ErrMarketUnavailable, r.Asset)
	}

	intent := exchange.OrderIntent{
		Market:    r.Asset,
		Side:      side,
		PriceMode: mode,
		RuleID:    r.ID,
	}
	var err error
	if side == exchange.SideSell {
		intent.Quantity, err = res.sellQuantity(r, execPrice, pf.Holding(r.Asset))
		if err != nil {
			return exchange.OrderIntent{}, err
		}
		intent.Notional = trading.FloorKRW(intent.Quantity.Mul(execPrice))
	} else {
		intent.Quantity, intent.Notional, err = res.buySize(r, execPrice, pf.Cash, mode.IsMarket())
		if err != nil {
			return exchange.OrderIntent{}, err
		}
	}

	if intent.Notional.LessThan(res.minNotional) {
		return exchange.OrderIntent{}, fmt.Errorf("%w: %s KRW < %s KRW", exchange.ErrMinNotionalNotMet, intent.Notional, res.minNotional)
	}
	return intent, nil
}

func (res *Resolver) sellQuantity(r rule.WatchRule, execPrice decimal.Decimal, h exchange.HoldingsSnapshot) (decimal.Decimal, error) {
	free := h.Quantity
	if !free.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no free %s balance", exchange.ErrInsufficientHoldings, h.Currency)
	}
	var qty decimal.Decimal
	switch r.Quantity.Kind {
	case rule.QuantityUnset:
		qty = trading.TruncateQuantity(free)
	case rule.QuantityUnits:
		qty = trading.TruncateQuantity(r.Quantity.Amount)
	case rule.QuantityCurrency:
		qty = trading.TruncateQuantity(r.Quantity.Amount.Div(execPrice))
	case rule.QuantityPercent:
		if err := checkPercent(r.Quantity.Amount); err != nil {
			return decimal.Zero, err
		}
		qty = trading.PortionOf(free, r.Quantity.Amount)
	default:
		return decimal.Zero, fmt.Errorf("unsupported quantity kind %d", r.Quantity.Kind)
	}
	if qty.GreaterThan(free) {
		return decimal.Zero, fmt.Errorf("%w: want %s, free %s", exchange.ErrInsufficientHoldings, qty, free)
	}
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: quantity rounds to zero", exchange.ErrMinNotionalNotMet)
	}
	return qty, nil
}

// buySize returns volume and KRW notional. For market buys the notional is
// what gets spent, so it is floored to whole won first.
func (res *Resolver) buySize(r rule.WatchRule, execPrice, cash decimal.Decimal, market bool) (decimal.Decimal, decimal.Decimal, error) {
	var qty, notional decimal.Decimal
	switch r.Quantity.Kind {
	case rule.QuantityUnits:
		qty = trading.TruncateQuantity(r.Quantity.Amount)
		notional = trading.FloorKRW(qty.Mul(execPrice))
	case rule.QuantityCurrency:
		notional = trading.FloorKRW(r.Quantity.Amount)
		qty = trading.TruncateQuantity(notional.Div(execPrice))
	case rule.QuantityPercent:
		if err := checkPercent(r.Quantity.Amount); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if !cash.IsPositive() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: no free KRW", exchange.ErrInsufficientFunds)
		}
		notional = trading.FloorKRW(cash.Mul(r.Quantity.Amount).Div(hundred))
		qty = trading.TruncateQuantity(notional.Div(execPrice))
	default:
		return decimal.Zero, decimal.Zero, fmt.Errorf("buy rule %s has no quantity", r.ID)
	}
	if !market {
		// the exchange reserves price*volume for limit buys
		notional = trading.FloorKRW(qty.Mul(execPrice))
	}
	if notional.GreaterThan(cash) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: need %s KRW, free %s KRW", exchange.ErrInsufficientFunds, notional, cash)
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: quantity rounds to zero", exchange.ErrMinNotionalNotMet)
	}
	return qty, notional, nil
}

func checkPercent(pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return fmt.Errorf("percentage %s outside (0, 100]", pct)
	}
	return nil
}
