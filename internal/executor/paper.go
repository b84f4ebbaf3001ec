// Package executor holds order executors that do not reach the exchange.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/logger"

	"github.com/google/uuid"
)

// Paper fills every order instantly without sending it anywhere. Prices and
// holdings still come from the live exchange.
type Paper struct {
	mu     sync.Mutex
	orders map[string]exchange.OrderResult
	now    func() time.Time
}

var (
	_ exchange.OrderExecutor = (*Paper)(nil)
	_ exchange.OrderLookup   = (*Paper)(nil)
)

func NewPaper() *Paper {
	return &Paper{
		orders: make(map[string]exchange.OrderResult),
		now:    time.Now,
	}
}

func (p *Paper) Submit(ctx context.Context, intent exchange.OrderIntent) (exchange.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return exchange.OrderResult{}, err
	}
	if intent.Identifier == "" {
		return exchange.OrderResult{}, fmt.Errorf("paper order needs an identifier")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.orders[intent.Identifier]; ok {
		return prev, nil
	}
	raw, _ := json.Marshal(map[string]string{
		"market":     intent.Market,
		"side":       string(intent.Side),
		"volume":     intent.Quantity.String(),
		"notional":   intent.Notional.String(),
		"price_mode": intent.PriceMode.String(),
		"identifier": intent.Identifier,
	})
	res := exchange.OrderResult{
		OrderID:    "paper-" + uuid.NewString(),
		Identifier: intent.Identifier,
		State:      "done",
		Raw:        raw,
		AcceptedAt: p.now(),
	}
	p.orders[intent.Identifier] = res
	logger.Infof("[paper] %s %s qty=%s notional=%s %s id=%s",
		intent.Market, intent.Side, intent.Quantity, intent.Notional, intent.PriceMode, res.OrderID)
	return res, nil
}

func (p *Paper) LookupOrder(_ context.Context, identifier string) (exchange.OrderResult, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.orders[identifier]
	return res, ok, nil
}

// EmptyHoldings is the holdings source of a dry run without credentials. With
// no cash and no assets every triggered rule fails sizing, so such a run only
// exercises watching and notification.
type EmptyHoldings struct{}

var _ exchange.HoldingsSource = EmptyHoldings{}

func (EmptyHoldings) Portfolio(context.Context) (exchange.Portfolio, error) {
	return exchange.Portfolio{QuoteCurrency: "KRW", Assets: map[string]exchange.HoldingsSnapshot{}, FetchedAt: time.Now()}, nil
}
