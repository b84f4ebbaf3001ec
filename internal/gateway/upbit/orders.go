package upbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/logger"

	"github.com/tidwall/gjson"
)

// Submit places one order. A market buy spends Notional (ord_type=price), a
// market sell sells Quantity (ord_type=market) and a limit order sends both
// volume and price. When the request may have reached the exchange without
// an acknowledgement the error matches exchange.ErrOutcomeUnknown; failures
// before the request was written keep exchange.ErrMarketUnavailable.
func (c *Client) Submit(ctx context.Context, intent exchange.OrderIntent) (exchange.OrderResult, error) {
	params, err := orderParams(intent)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && !apiErr.NotSent && (apiErr.Status == 0 || apiErr.Status >= 500) {
			logger.Warnf("upbit order %s outcome unknown: %v", intent.Identifier, err)
			return exchange.OrderResult{}, fmt.Errorf("%w: %v", exchange.ErrOutcomeUnknown, err)
		}
		return exchange.OrderResult{}, fmt.Errorf("submit order %s: %w", intent.Identifier, err)
	}
	return parseOrder(data, intent.Identifier), nil
}

// LookupOrder finds an order by the client identifier it was submitted with.
func (c *Client) LookupOrder(ctx context.Context, identifier string) (exchange.OrderResult, bool, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/order", url.Values{"identifier": {identifier}}, true)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return exchange.OrderResult{}, false, nil
		}
		return exchange.OrderResult{}, false, fmt.Errorf("lookup order %s: %w", identifier, err)
	}
	return parseOrder(data, identifier), true, nil
}

func orderParams(intent exchange.OrderIntent) (url.Values, error) {
	params := url.Values{
		"market": {intent.Market},
		"side":   {string(intent.Side)},
	}
	if intent.Identifier != "" {
		params.Set("identifier", intent.Identifier)
	}
	switch {
	case !intent.PriceMode.IsMarket():
		if !intent.Quantity.IsPositive() || !intent.PriceMode.Limit.IsPositive() {
			return nil, fmt.Errorf("limit order needs positive volume and price")
		}
		params.Set("ord_type", "limit")
		params.Set("volume", intent.Quantity.String())
		params.Set("price", intent.PriceMode.Limit.String())
	case intent.Side == exchange.SideBuy:
		if !intent.Notional.IsPositive() {
			return nil, fmt.Errorf("market buy needs a positive notional")
		}
		params.Set("ord_type", "price")
		params.Set("price", intent.Notional.String())
	case intent.Side == exchange.SideSell:
		if !intent.Quantity.IsPositive() {
			return nil, fmt.Errorf("market sell needs a positive volume")
		}
		params.Set("ord_type", "market")
		params.Set("volume", intent.Quantity.String())
	default:
		return nil, fmt.Errorf("unknown order side %q", intent.Side)
	}
	return params, nil
}

func parseOrder(data []byte, identifier string) exchange.OrderResult {
	doc := gjson.ParseBytes(data)
	res := exchange.OrderResult{
		OrderID:    doc.Get("uuid").String(),
		Identifier: doc.Get("identifier").String(),
		State:      doc.Get("state").String(),
		Raw:        append([]byte(nil), data...),
		AcceptedAt: time.Now(),
	}
	if res.Identifier == "" {
		res.Identifier = identifier
	}
	if ts, err := time.Parse(time.RFC3339, doc.Get("created_at").String()); err == nil {
		res.AcceptedAt = ts
	}
	return res
}
