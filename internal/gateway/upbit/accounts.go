package upbit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"upbitmt/internal/gateway/exchange"

	"github.com/tidwall/gjson"
)

const quoteCurrency = "KRW"

// Portfolio reads every balance in one call. Assets are keyed by their KRW
// market code.
func (c *Client) Portfolio(ctx context.Context) (exchange.Portfolio, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return exchange.Portfolio{}, fmt.Errorf("accounts: %w", err)
	}
	pf := exchange.Portfolio{
		QuoteCurrency: quoteCurrency,
		Assets:        make(map[string]exchange.HoldingsSnapshot),
		FetchedAt:     time.Now(),
	}
	gjson.ParseBytes(data).ForEach(func(_, item gjson.Result) bool {
		currency := strings.ToUpper(item.Get("currency").String())
		if currency == "" {
			return true
		}
		balance := decimalOf(item.Get("balance"))
		locked := decimalOf(item.Get("locked"))
		if currency == quoteCurrency {
			pf.Cash = balance
			pf.CashLocked = locked
			return true
		}
		unit := strings.ToUpper(item.Get("unit_currency").String())
		if unit == "" {
			unit = quoteCurrency
		}
		market := unit + "-" + currency
		pf.Assets[market] = exchange.HoldingsSnapshot{
			Market:      market,
			Currency:    currency,
			Quantity:    balance,
			Locked:      locked,
			AvgBuyPrice: decimalOf(item.Get("avg_buy_price")),
		}
		return true
	})
	return pf, nil
}
