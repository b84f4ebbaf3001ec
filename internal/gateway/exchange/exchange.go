package exchange

import (
	"context"
	"time"
)

type PriceSource interface {
	CurrentPrice(ctx context.Context, market string) (PriceSnapshot, error)
}

// ExtremesSource reports the high/low of the most recent minute candles.
type ExtremesSource interface {
	RecentExtremes(ctx context.Context, market string, candles int) (PriceSnapshot, error)
}

type HoldingsSource interface {
	Portfolio(ctx context.Context) (Portfolio, error)
}

type OrderExecutor interface {
	Submit(ctx context.Context, intent OrderIntent) (OrderResult, error)
}

// OrderLookup resolves a submission whose acknowledgement was lost.
type OrderLookup interface {
	LookupOrder(ctx context.Context, identifier string) (OrderResult, bool, error)
}

type CandleSource interface {
	DayCandles(ctx context.Context, market string, since time.Time) ([]Candle, error)
}

type MarketLister interface {
	Markets(ctx context.Context) ([]MarketInfo, error)
}
