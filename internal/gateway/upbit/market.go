package upbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"upbitmt/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	candleTimeLayout = "2006-01-02T15:04:05"
	maxCandleCount   = 200
)

// Markets lists every tradable market with its display names.
func (c *Client) Markets(ctx context.Context) ([]exchange.MarketInfo, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/market/all", url.Values{"isDetails": {"true"}}, false)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	items := gjson.ParseBytes(data).Array()
	out := make([]exchange.MarketInfo, 0, len(items))
	for _, item := range items {
		code := item.Get("market").String()
		if code == "" {
			continue
		}
		out = append(out, exchange.MarketInfo{
			Market:      code,
			KoreanName:  item.Get("korean_name").String(),
			EnglishName: item.Get("english_name").String(),
		})
	}
	return out, nil
}

// CurrentPrice reads the ticker of one market.
func (c *Client) CurrentPrice(ctx context.Context, market string) (exchange.PriceSnapshot, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", url.Values{"markets": {market}}, false)
	if err != nil {
		return exchange.PriceSnapshot{}, fmt.Errorf("ticker %s: %w", market, err)
	}
	item := gjson.ParseBytes(data).Get("0")
	if !item.Exists() {
		return exchange.PriceSnapshot{}, &exchange.APIError{Status: http.StatusOK, Message: "empty ticker for " + market, Kind: exchange.ErrMarketUnavailable}
	}
	snap := exchange.PriceSnapshot{
		Market:    market,
		Price:     decimalOf(item.Get("trade_price")),
		Open:      decimalOf(item.Get("opening_price")),
		Timestamp: time.UnixMilli(item.Get("timestamp").Int()),
	}
	if !snap.Price.IsPositive() {
		return exchange.PriceSnapshot{}, &exchange.APIError{Status: http.StatusOK, Message: "non-positive trade price for " + market, Kind: exchange.ErrMarketUnavailable}
	}
	return snap, nil
}

// RecentExtremes returns the high and low across the last n one-minute
// candles, with Price set to the newest close.
func (c *Client) RecentExtremes(ctx context.Context, market string, n int) (exchange.PriceSnapshot, error) {
	if n <= 0 {
		n = 1
	}
	if n > maxCandleCount {
		n = maxCandleCount
	}
	params := url.Values{"market": {market}, "count": {strconv.Itoa(n)}}
	candles, err := c.candles(ctx, "/v1/candles/minutes/1", params)
	if err != nil {
		return exchange.PriceSnapshot{}, fmt.Errorf("minute candles %s: %w", market, err)
	}
	if len(candles) == 0 {
		return exchange.PriceSnapshot{}, &exchange.APIError{Status: http.StatusOK, Message: "no minute candles for " + market, Kind: exchange.ErrMarketUnavailable}
	}
	snap := exchange.PriceSnapshot{
		Market:    market,
		Price:     candles[0].Close,
		High:      candles[0].High,
		Low:       candles[0].Low,
		Timestamp: candles[0].Start,
	}
	for _, candle := range candles[1:] {
		if candle.High.GreaterThan(snap.High) {
			snap.High = candle.High
		}
		if candle.Low.LessThan(snap.Low) {
			snap.Low = candle.Low
		}
	}
	return snap, nil
}

// DayCandles returns the daily candles starting on or after since, oldest
// first. Upbit caps the lookback at 200 days.
func (c *Client) DayCandles(ctx context.Context, market string, since time.Time) ([]exchange.Candle, error) {
	since = since.In(c.loc)
	start := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, c.loc)
	days := int(time.Since(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	if days > maxCandleCount {
		days = maxCandleCount
	}
	params := url.Values{"market": {market}, "count": {strconv.Itoa(days)}}
	candles, err := c.candles(ctx, "/v1/candles/days", params)
	if err != nil {
		return nil, fmt.Errorf("day candles %s: %w", market, err)
	}
	out := make([]exchange.Candle, 0, len(candles))
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Start.Before(start) {
			continue
		}
		out = append(out, candles[i])
	}
	return out, nil
}

// candles returns bars newest first, as the API does.
func (c *Client) candles(ctx context.Context, path string, params url.Values) ([]exchange.Candle, error) {
	data, err := c.doRequest(ctx, http.MethodGet, path, params, false)
	if err != nil {
		return nil, err
	}
	items := gjson.ParseBytes(data).Array()
	out := make([]exchange.Candle, 0, len(items))
	for _, item := range items {
		start, err := time.ParseInLocation(candleTimeLayout, item.Get("candle_date_time_kst").String(), c.loc)
		if err != nil {
			return nil, fmt.Errorf("parse candle time %q: %w", item.Get("candle_date_time_kst").String(), err)
		}
		out = append(out, exchange.Candle{
			Market: item.Get("market").String(),
			Start:  start,
			Open:   decimalOf(item.Get("opening_price")),
			High:   decimalOf(item.Get("high_price")),
			Low:    decimalOf(item.Get("low_price")),
			Close:  decimalOf(item.Get("trade_price")),
		})
	}
	return out, nil
}

// decimalOf keeps the literal digits of a JSON number or numeric string.
func decimalOf(v gjson.Result) decimal.Decimal {
	raw := strings.TrimSpace(v.Raw)
	if v.Type == gjson.String {
		raw = strings.TrimSpace(v.Str)
	}
	if raw == "" || raw == "null" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NewFromFloat(v.Float())
	}
	return d
}
