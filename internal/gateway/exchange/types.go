// Package exchange defines the contract between the dispatch engine and the
// spot exchange: price/holdings snapshots, resolved order intents and the
// error taxonomy every exchange backend maps its failures onto.
package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "bid"
	SideSell Side = "ask"
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "매수"
	case SideSell:
		return "매도"
	default:
		return string(s)
	}
}

// PriceModeKind tags how an order is priced.
type PriceModeKind int

const (
	PriceMarket PriceModeKind = iota
	PriceLimit
)

// PriceMode is Market or Limit(price).
type PriceMode struct {
	Kind  PriceModeKind
	Limit decimal.Decimal
}

func MarketPrice() PriceMode { return PriceMode{Kind: PriceMarket} }

func LimitPrice(price decimal.Decimal) PriceMode {
	return PriceMode{Kind: PriceLimit, Limit: price}
}

func (p PriceMode) IsMarket() bool { return p.Kind == PriceMarket }

func (p PriceMode) String() string {
	if p.IsMarket() {
		return "market"
	}
	return "limit(" + p.Limit.String() + ")"
}

// PriceSnapshot is the per-tick view of one market.
type PriceSnapshot struct {
	Market    string
	Price     decimal.Decimal // last trade price
	Open      decimal.Decimal // daily opening price (KST 09:00 candle)
	High      decimal.Decimal // recent candle high, zero when not fetched
	Low       decimal.Decimal // recent candle low, zero when not fetched
	Timestamp time.Time
}

// HasExtremes reports whether recent candle high/low were captured.
func (p PriceSnapshot) HasExtremes() bool {
	return p.High.IsPositive() && p.Low.IsPositive()
}

// HoldingsSnapshot is the balance of a single asset.
type HoldingsSnapshot struct {
	Market      string
	Currency    string
	Quantity    decimal.Decimal // free balance
	Locked      decimal.Decimal // reserved by open orders
	AvgBuyPrice decimal.Decimal
}

// Total returns free plus locked balance.
func (h HoldingsSnapshot) Total() decimal.Decimal {
	return h.Quantity.Add(h.Locked)
}

// Portfolio is one accounts read: quote cash and every held asset.
type Portfolio struct {
	QuoteCurrency string
	Cash          decimal.Decimal // free quote balance
	CashLocked    decimal.Decimal
	Assets        map[string]HoldingsSnapshot // keyed by market code
	FetchedAt     time.Time
}

// Holding returns the snapshot for market, zero-valued when nothing is held.
func (p Portfolio) Holding(market string) HoldingsSnapshot {
	market = strings.ToUpper(strings.TrimSpace(market))
	if h, ok := p.Assets[market]; ok {
		return h
	}
	return HoldingsSnapshot{Market: market, Currency: BaseCurrency(market)}
}

// BaseCurrency returns "BTC" for "KRW-BTC".
func BaseCurrency(market string) string {
	if idx := strings.Index(market, "-"); idx >= 0 {
		return market[idx+1:]
	}
	return market
}

// OrderIntent is a fully resolved, ready-to-submit order. It is never persisted
// as-is; the order record written after submission carries the outcome.
type OrderIntent struct {
	Market     string
	Side       Side
	Quantity   decimal.Decimal // coin units
	Notional   decimal.Decimal // quote amount; what a market buy actually spends
	PriceMode  PriceMode
	Identifier string // client-side idempotency key
	RuleID     string
}

// OrderResult is the exchange acknowledgement of a submission.
type OrderResult struct {
	OrderID    string
	Identifier string
	State      string
	Raw        []byte
	AcceptedAt time.Time
}

// Candle is a daily or minute OHLC bar.
type Candle struct {
	Market string
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
}

// MarketInfo describes a tradable market as listed by the exchange.
type MarketInfo struct {
	Market      string
	KoreanName  string
	EnglishName string
}
