package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/gateway/exchange"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccess = "access-key"
	testSecret = "secret-key"
)

var kst = time.FixedZone("KST", 9*60*60)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.UpbitConfig{
		AccessKey:         testAccess,
		SecretKey:         testSecret,
		BaseURL:           srv.URL,
		TimeoutSeconds:    5,
		RequestsPerSecond: 1000,
	}, kst)
	require.NoError(t, err)
	return client
}

// claimsOf verifies the bearer token and returns its claims.
func claimsOf(t *testing.T, r *http.Request) jwt.MapClaims {
	t.Helper()
	header := r.Header.Get("Authorization")
	require.True(t, strings.HasPrefix(header, "Bearer "), "missing bearer token")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	return claims
}

func queryHash(values url.Values) string {
	q, _ := url.QueryUnescape(values.Encode())
	sum := sha512.Sum512([]byte(q))
	return hex.EncodeToString(sum[:])
}

func TestCurrentPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","trade_price":95000000.0,"opening_price":93500000,"timestamp":1767225600000}]`))
	})

	snap, err := client.CurrentPrice(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(95_000_000)))
	assert.True(t, snap.Open.Equal(decimal.NewFromInt(93_500_000)))
	assert.False(t, snap.HasExtremes())
}

func TestCurrentPrice_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"name":"too_many_requests","message":"slow down"}}`, exchange.ErrRateLimited},
		{"server error", http.StatusBadGateway, `bad gateway`, exchange.ErrMarketUnavailable},
		{"auth", http.StatusUnauthorized, `{"error":{"name":"invalid_access_key","message":"no"}}`, exchange.ErrAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.CurrentPrice(context.Background(), "KRW-BTC")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRecentExtremes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/1", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`[
			{"market":"KRW-BTC","candle_date_time_kst":"2026-01-01T10:01:00","opening_price":94900000,"high_price":95100000,"low_price":94800000,"trade_price":95000000},
			{"market":"KRW-BTC","candle_date_time_kst":"2026-01-01T10:00:00","opening_price":94000000,"high_price":94950000,"low_price":93900000,"trade_price":94900000}
		]`))
	})

	snap, err := client.RecentExtremes(context.Background(), "KRW-BTC", 2)
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(95_000_000)))
	assert.True(t, snap.High.Equal(decimal.NewFromInt(95_100_000)))
	assert.True(t, snap.Low.Equal(decimal.NewFromInt(93_900_000)))
	assert.True(t, snap.HasExtremes())
}

func TestDayCandles_FiltersAndOrders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/days", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"market":"KRW-ETH","candle_date_time_kst":"2026-01-03T09:00:00","opening_price":3,"high_price":4,"low_price":2,"trade_price":3},
			{"market":"KRW-ETH","candle_date_time_kst":"2026-01-02T09:00:00","opening_price":3,"high_price":5,"low_price":1,"trade_price":4},
			{"market":"KRW-ETH","candle_date_time_kst":"2026-01-01T09:00:00","opening_price":3,"high_price":5,"low_price":0.5,"trade_price":4}
		]`))
	})

	since := time.Date(2026, 1, 2, 15, 0, 0, 0, kst)
	candles, err := client.DayCandles(context.Background(), "KRW-ETH", since)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 2, candles[0].Start.Day())
	assert.Equal(t, 3, candles[1].Start.Day())
	assert.True(t, candles[0].Low.Equal(decimal.NewFromInt(1)))
}

func TestPortfolio(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		claims := claimsOf(t, r)
		assert.Equal(t, testAccess, claims["access_key"])
		assert.NotEmpty(t, claims["nonce"])
		assert.NotContains(t, claims, "query_hash")
		_, _ = w.Write([]byte(`[
			{"currency":"KRW","balance":"1000000.0","locked":"5000.0","avg_buy_price":"0","unit_currency":"KRW"},
			{"currency":"BTC","balance":"0.002","locked":"0.0","avg_buy_price":"90000000","unit_currency":"KRW"}
		]`))
	})

	pf, err := client.Portfolio(context.Background())
	require.NoError(t, err)
	assert.True(t, pf.Cash.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, pf.CashLocked.Equal(decimal.NewFromInt(5000)))
	btc := pf.Holding("KRW-BTC")
	assert.Equal(t, "BTC", btc.Currency)
	assert.Equal(t, "0.002", btc.Quantity.String())
	assert.True(t, btc.AvgBuyPrice.Equal(decimal.NewFromInt(90_000_000)))
	assert.True(t, pf.Holding("KRW-XRP").Quantity.IsZero())
}

func TestPortfolio_WithoutCredentials(t *testing.T) {
	client, err := NewClient(config.UpbitConfig{BaseURL: "http://127.0.0.1:1"}, kst)
	require.NoError(t, err)
	assert.False(t, client.Authenticated())
	_, err = client.Portfolio(context.Background())
	assert.ErrorIs(t, err, exchange.ErrAuth)
}

func TestSubmit_MarketOrders(t *testing.T) {
	var bodies []map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		values := url.Values{}
		for k, v := range body {
			values.Set(k, v)
		}
		claims := claimsOf(t, r)
		assert.Equal(t, "SHA512", claims["query_hash_alg"])
		assert.Equal(t, queryHash(values), claims["query_hash"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uuid":"order-1","state":"wait","identifier":"` + body["identifier"] + `","created_at":"2026-01-01T10:00:00+09:00"}`))
	})

	sell, err := client.Submit(context.Background(), exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideSell,
		Quantity:   decimal.RequireFromString("0.001"),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "rule-1-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", sell.OrderID)
	assert.Equal(t, "rule-1-a", sell.Identifier)

	_, err = client.Submit(context.Background(), exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideBuy,
		Notional:   decimal.NewFromInt(10000),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "rule-2-a",
	})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, map[string]string{"market": "KRW-BTC", "side": "ask", "ord_type": "market", "volume": "0.001", "identifier": "rule-1-a"}, bodies[0])
	assert.Equal(t, map[string]string{"market": "KRW-BTC", "side": "bid", "ord_type": "price", "price": "10000", "identifier": "rule-2-a"}, bodies[1])
}

func TestSubmit_LimitOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "limit", body["ord_type"])
		assert.Equal(t, "2", body["volume"])
		assert.Equal(t, "3500", body["price"])
		_, _ = w.Write([]byte(`{"uuid":"order-2","state":"wait"}`))
	})

	res, err := client.Submit(context.Background(), exchange.OrderIntent{
		Market:     "KRW-XRP",
		Side:       exchange.SideBuy,
		Quantity:   decimal.NewFromInt(2),
		PriceMode:  exchange.LimitPrice(decimal.NewFromInt(3500)),
		Identifier: "rule-3-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "rule-3-a", res.Identifier)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"funds", http.StatusBadRequest, `{"error":{"name":"insufficient_funds_bid","message":"not enough KRW"}}`, exchange.ErrInsufficientFunds},
		{"min total", http.StatusBadRequest, `{"error":{"name":"under_min_total_bid","message":"too small"}}`, exchange.ErrMinNotionalNotMet},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"name":"too_many_requests","message":""}}`, exchange.ErrRateLimited},
		{"server error", http.StatusInternalServerError, `oops`, exchange.ErrOutcomeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.Submit(context.Background(), exchange.OrderIntent{
				Market:     "KRW-BTC",
				Side:       exchange.SideBuy,
				Notional:   decimal.NewFromInt(10000),
				PriceMode:  exchange.MarketPrice(),
				Identifier: "x",
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSubmit_TimeoutIsOutcomeUnknown(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Submit(ctx, exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideSell,
		Quantity:   decimal.NewFromInt(1),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "slow",
	})
	assert.ErrorIs(t, err, exchange.ErrOutcomeUnknown)
}

func TestSubmit_ConnectionRefusedIsNotOutcomeUnknown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	client, err := NewClient(config.UpbitConfig{
		AccessKey:         testAccess,
		SecretKey:         testSecret,
		BaseURL:           base,
		TimeoutSeconds:    5,
		RequestsPerSecond: 1000,
	}, kst)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideSell,
		Quantity:   decimal.NewFromInt(1),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "refused",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, exchange.ErrOutcomeUnknown)
	assert.ErrorIs(t, err, exchange.ErrMarketUnavailable)
	assert.True(t, exchange.IsTransient(err))
	var apiErr *exchange.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotSent)
}

func TestSubmit_ServerErrorAfterSendIsOutcomeUnknown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := client.Submit(context.Background(), exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideSell,
		Quantity:   decimal.NewFromInt(1),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "sent",
	})
	assert.ErrorIs(t, err, exchange.ErrOutcomeUnknown)
	assert.False(t, exchange.IsTransient(err))
}

func TestLookupOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/order", r.URL.Path)
		claims := claimsOf(t, r)
		assert.Equal(t, queryHash(r.URL.Query()), claims["query_hash"])
		if r.URL.Query().Get("identifier") == "known" {
			_, _ = w.Write([]byte(`{"uuid":"order-9","state":"done","identifier":"known"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"name":"order_not_found","message":"주문을 찾지 못했습니다."}}`))
	})

	res, found, err := client.LookupOrder(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "order-9", res.OrderID)
	assert.Equal(t, "done", res.State)

	_, found, err = client.LookupOrder(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("isDetails"))
		_, _ = w.Write([]byte(`[{"market":"KRW-BTC","korean_name":"비트코인","english_name":"Bitcoin"},{"market":"BTC-ETH","korean_name":"이더리움","english_name":"Ethereum"}]`))
	})

	markets, err := client.Markets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, exchange.MarketInfo{Market: "KRW-BTC", KoreanName: "비트코인", EnglishName: "Bitcoin"}, markets[0])
}
