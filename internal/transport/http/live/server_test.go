package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"upbitmt/internal/dispatch"
	"upbitmt/internal/gateway/database"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/rule"
	"upbitmt/internal/store"
	"upbitmt/internal/store/model"
	"upbitmt/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Rules() []rule.WatchRule {
	return m.Called().Get(0).([]rule.WatchRule)
}

func (m *MockEngine) Status() dispatch.Status {
	return m.Called().Get(0).(dispatch.Status)
}

func (m *MockEngine) Reload(ctx context.Context) (rule.LoadSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(rule.LoadSummary), args.Error(1)
}

type namer map[string]string

func (n namer) DisplayName(market string) string { return n[market] }

func sampleRules() []rule.WatchRule {
	fired := rule.WatchRule{
		ID:        "KRW-BTC|익절|매도|95000000|KRW",
		Asset:     "KRW-BTC",
		Reason:    "익절",
		TradeType: rule.TradeSell,
		Target:    decimal.NewFromInt(95_000_000),
		Condition: rule.GreaterOrEqual,
		Quantity:  rule.Percent(decimal.NewFromInt(50)),
		PriceMode: exchange.MarketPrice(),
		Expiry:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
	fired.Runtime = rule.Runtime{State: rule.StateFired, OrderID: "order-1"}
	pending := rule.WatchRule{
		ID:        "KRW-XRP||매수|500|KRW",
		Asset:     "KRW-XRP",
		TradeType: rule.TradeBuy,
		Target:    decimal.NewFromInt(500),
		Condition: rule.LessOrEqual,
		Quantity:  rule.Currency(decimal.NewFromInt(10_000)),
		PriceMode: exchange.MarketPrice(),
		Expiry:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
	pending.Runtime = rule.Runtime{State: rule.StatePending, RetryCount: 1}
	return []rule.WatchRule{fired, pending}
}

func newTestServer(t *testing.T, eng Engine, orders store.OrderRepository, ticks *database.TickLog) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Engine: eng, Orders: orders, Ticks: ticks, Namer: namer{"KRW-BTC": "비트코인"}})
	require.NoError(t, err)
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, method, target string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	eng := new(MockEngine)
	eng.On("Status").Return(dispatch.Status{Ticks: 4}).Once()
	eng.On("Status").Return(dispatch.Status{Halted: "authentication failed"}).Once()
	h := newTestServer(t, eng, nil, nil)

	code, body := get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 4, body["ticks"])

	code, body = get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "halted", body["status"])
}

func TestRules_ListAndFilter(t *testing.T) {
	eng := new(MockEngine)
	eng.On("Rules").Return(sampleRules())
	h := newTestServer(t, eng, nil, nil)

	code, body := get(t, h, http.MethodGet, "/api/live/rules")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
	rules := body["rules"].([]any)
	first := rules[0].(map[string]any)
	assert.Equal(t, "비트코인", first["name"])
	assert.Equal(t, "fired", first["state"])
	assert.Equal(t, "50%", first["quantity"])
	assert.Equal(t, "2026-12-31", first["expiry"])

	_, body = get(t, h, http.MethodGet, "/api/live/rules?state=pending")
	assert.EqualValues(t, 1, body["total"])
	_, body = get(t, h, http.MethodGet, "/api/live/rules?market=krw-btc")
	assert.EqualValues(t, 1, body["total"])
}

func TestReload(t *testing.T) {
	eng := new(MockEngine)
	removed := sampleRules()[1]
	eng.On("Reload", mock.Anything).Return(rule.LoadSummary{Total: 3, Added: 1, Kept: 2, Removed: []rule.WatchRule{removed}}, nil).Once()
	eng.On("Reload", mock.Anything).Return(rule.LoadSummary{}, errors.New("open monitor.xlsx: no such file")).Once()
	h := newTestServer(t, eng, nil, nil)

	code, body := get(t, h, http.MethodPost, "/api/live/rules/reload")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["added"])
	assert.Equal(t, []any{removed.ID}, body["removed"])

	code, body = get(t, h, http.MethodPost, "/api/live/rules/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["error"], "no such file")
	eng.AssertExpectations(t)
}

func TestOrdersAndTicks(t *testing.T) {
	dir := t.TempDir()
	states, err := sqlite.NewSqliteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer states.Close()
	ticks, err := database.NewTickLog(filepath.Join(dir, "ticks.db"))
	require.NoError(t, err)
	defer ticks.Close()

	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, states.Orders().Save(ctx, &model.OrderModel{
			Identifier:    id,
			RuleID:        "rule-" + id,
			Market:        "KRW-BTC",
			Side:          "ask",
			Quantity:      "0.001",
			Status:        model.OrderStatusAccepted,
			SubmittedUnix: int64(1_767_225_600 + i),
		}))
		_, err := ticks.Insert(ctx, database.TickRecord{StartedAt: time.Unix(int64(1_767_225_600+i), 0), Active: i})
		require.NoError(t, err)
	}
	h := newTestServer(t, new(MockEngine), states.Orders(), ticks)

	code, body := get(t, h, http.MethodGet, "/api/live/orders?limit=2")
	require.Equal(t, http.StatusOK, code)
	orders := body["orders"].([]any)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].(map[string]any)["identifier"])

	_, body = get(t, h, http.MethodGet, "/api/live/orders?rule_id=rule-a")
	assert.EqualValues(t, 1, body["total"])

	code, body = get(t, h, http.MethodGet, "/api/live/ticks?limit=abc")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["total"])
}

func TestOrders_DisabledWithoutStore(t *testing.T) {
	h := newTestServer(t, new(MockEngine), nil, nil)
	code, _ := get(t, h, http.MethodGet, "/api/live/orders")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, h, http.MethodGet, "/api/live/ticks")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
