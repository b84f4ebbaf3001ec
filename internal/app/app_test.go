package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/gateway/notifier"
	"upbitmt/internal/rule"
	"upbitmt/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu      sync.Mutex
	price   decimal.Decimal
	submits []exchange.OrderIntent
	auth    bool
}

func (f *fakeExchange) Markets(context.Context) ([]exchange.MarketInfo, error) {
	return []exchange.MarketInfo{
		{Market: "KRW-BTC", KoreanName: "비트코인", EnglishName: "Bitcoin"},
		{Market: "KRW-ETH", KoreanName: "이더리움", EnglishName: "Ethereum"},
		{Market: "BTC-ETH", KoreanName: "이더리움", EnglishName: "Ethereum"},
	}, nil
}

func (f *fakeExchange) CurrentPrice(_ context.Context, market string) (exchange.PriceSnapshot, error) {
	return exchange.PriceSnapshot{Market: market, Price: f.price, Open: f.price}, nil
}

func (f *fakeExchange) RecentExtremes(_ context.Context, market string, _ int) (exchange.PriceSnapshot, error) {
	return exchange.PriceSnapshot{Market: market, Price: f.price, High: f.price, Low: f.price}, nil
}

func (f *fakeExchange) DayCandles(context.Context, string, time.Time) ([]exchange.Candle, error) {
	return nil, nil
}

func (f *fakeExchange) Portfolio(context.Context) (exchange.Portfolio, error) {
	return exchange.Portfolio{
		QuoteCurrency: "KRW",
		Cash:          decimal.NewFromInt(1_000_000),
		Assets: map[string]exchange.HoldingsSnapshot{
			"KRW-BTC": {Market: "KRW-BTC", Currency: "BTC", Quantity: decimal.RequireFromString("0.002")},
		},
	}, nil
}

func (f *fakeExchange) Submit(_ context.Context, intent exchange.OrderIntent) (exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, intent)
	return exchange.OrderResult{OrderID: "upbit-1", Identifier: intent.Identifier, State: "wait"}, nil
}

func (f *fakeExchange) LookupOrder(context.Context, string) (exchange.OrderResult, bool, error) {
	return exchange.OrderResult{}, false, nil
}

func (f *fakeExchange) Authenticated() bool { return f.auth }

func (f *fakeExchange) submitted() []exchange.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderIntent(nil), f.submits...)
}

type outbox struct {
	mu   sync.Mutex
	msgs []string
}

func (o *outbox) notifier() notifier.TextNotifier {
	return notifier.Func(func(text string) error {
		o.mu.Lock()
		o.msgs = append(o.msgs, text)
		o.mu.Unlock()
		return nil
	})
}

func (o *outbox) joined() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.msgs, "\n---\n")
}

const rulesYAML = `rules:
  - asset: 비트코인
    reason: 익절
    trade_type: 매도
    target: 95000000
    condition: 이상
    quantity: 50
    quantity_unit: "%"
    expiry: 2099-12-31
    active: true
  - asset: 도지코인
    trade_type: 매수
    target: 100
    expiry: 2099-12-31
    active: true
`

func testConfig(t *testing.T, dryRun bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesYAML), 0o644))
	return &config.Config{
		App:   config.AppConfig{Env: "test", LogLevel: "error", Timezone: "Asia/Seoul"},
		Upbit: config.UpbitConfig{BaseURL: "http://127.0.0.1:0"},
		Rules: config.RulesConfig{Path: rulesPath},
		Engine: config.EngineConfig{
			PollDuration: 20 * time.Millisecond,
			RetryCeiling: 3,
			Workers:      1,
			MinNotional:  5000,
			DryRun:       dryRun,
		},
		Notify: config.NotifyConfig{Channel: config.ChannelNone, QueueSize: 16},
		Storage: config.StorageConfig{
			StateDBPath: filepath.Join(dir, "state.db"),
			TickLogPath: filepath.Join(dir, "ticks.db"),
		},
	}
}

func runFor(t *testing.T, a *App, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, a.Run(ctx))
}

func TestApp_RunsRulesAgainstExchange(t *testing.T) {
	cfg := testConfig(t, false)
	ex := &fakeExchange{price: decimal.NewFromInt(95_000_000), auth: true}
	out := &outbox{}

	a, err := NewAppBuilder(cfg, WithExchange(ex), WithNotifier(out.notifier())).Build(context.Background())
	require.NoError(t, err)
	runFor(t, a, 150*time.Millisecond)

	subs := ex.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, "KRW-BTC", subs[0].Market)
	assert.True(t, subs[0].Quantity.Equal(decimal.RequireFromString("0.001")))

	rules := a.Engine().Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, rule.StateFired, rules[0].Runtime.State)

	msgs := out.joined()
	assert.Contains(t, msgs, "규칙 오류")
	assert.Contains(t, msgs, "도지코인")
	assert.Contains(t, msgs, "주문 실행")
	assert.Contains(t, msgs, "감시 종료")

	states, err := sqlite.NewSqliteStore(cfg.Storage.StateDBPath)
	require.NoError(t, err)
	defer states.Close()
	orders, err := states.Orders().ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "upbit-1", orders[0].ExchangeID)
}

func TestApp_RestartDoesNotRefire(t *testing.T) {
	cfg := testConfig(t, false)
	ex := &fakeExchange{price: decimal.NewFromInt(95_000_000), auth: true}

	for i := 0; i < 2; i++ {
		a, err := NewAppBuilder(cfg, WithExchange(ex), WithNotifier(notifier.Nop{})).Build(context.Background())
		require.NoError(t, err)
		runFor(t, a, 100*time.Millisecond)
	}
	assert.Len(t, ex.submitted(), 1)
}

func TestApp_DryRunUsesPaperExecutor(t *testing.T) {
	cfg := testConfig(t, true)
	ex := &fakeExchange{price: decimal.NewFromInt(96_000_000), auth: true}
	out := &outbox{}

	a, err := NewAppBuilder(cfg, WithExchange(ex), WithNotifier(out.notifier())).Build(context.Background())
	require.NoError(t, err)
	runFor(t, a, 100*time.Millisecond)

	assert.Empty(t, ex.submitted())
	assert.Equal(t, rule.StateFired, a.Engine().Rules()[0].Runtime.State)
	assert.True(t, strings.HasPrefix(a.Engine().Rules()[0].Runtime.OrderID, "paper-"))
	assert.Contains(t, out.joined(), "[모의] 주문 실행")
}

func TestApp_DryRunWithoutCredentialsHasNoHoldings(t *testing.T) {
	cfg := testConfig(t, true)
	ex := &fakeExchange{price: decimal.NewFromInt(96_000_000)}

	a, err := NewAppBuilder(cfg, WithExchange(ex), WithNotifier(notifier.Nop{})).Build(context.Background())
	require.NoError(t, err)
	runFor(t, a, 100*time.Millisecond)

	r := a.Engine().Rules()[0]
	assert.NotEqual(t, rule.StateFired, r.Runtime.State)
	assert.Positive(t, r.Runtime.RetryCount)
}

func TestApp_BuildFailsOnUnsupportedRuleFile(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Rules.Path = filepath.Join(t.TempDir(), "rules.csv")
	_, err := NewAppBuilder(cfg, WithExchange(&fakeExchange{auth: true})).Build(context.Background())
	assert.ErrorContains(t, err, "rule source")
}

func TestStartupSummary_Lines(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.App.HTTPAddr = "127.0.0.1:9991"
	lines := newStartupSummary(cfg, 120, false).Lines()
	assert.Contains(t, lines, "주문 모드: 모의 (API 키 없음, 빈 잔고)")
	assert.Contains(t, lines, "KRW 마켓: 120")
	assert.Contains(t, lines, "상태 API: 127.0.0.1:9991")
}
