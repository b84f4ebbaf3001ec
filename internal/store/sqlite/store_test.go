package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/rule"
	"upbitmt/internal/store"
	"upbitmt/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRule() rule.WatchRule {
	return rule.WatchRule{
		ID:        "KRW-BTC|익절|매도|95000000|KRW",
		Asset:     "KRW-BTC",
		Reason:    "익절",
		TradeType: rule.TradeSell,
		Target:    decimal.NewFromInt(95_000_000),
		PriceUnit: rule.UnitAbsolute,
		Condition: rule.GreaterOrEqual,
		Quantity:  rule.Percent(decimal.NewFromInt(50)),
		PriceMode: exchange.MarketPrice(),
		Expiry:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
}

func TestRuleStates_SaveRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := sampleRule()
	r.Runtime = rule.Runtime{State: rule.StatePending, RetryCount: 2, LastError: "rate limited", UpdatedAt: time.Unix(1_767_225_600, 0)}
	require.NoError(t, s.RuleStates().Save(ctx, store.RuleStateFromRule(r)))

	r.Runtime.State = rule.StateFired
	r.Runtime.OrderID = "order-1"
	r.Runtime.Baseline = decimal.RequireFromString("93000000.5")
	r.Runtime.HasBaseline = true
	require.NoError(t, s.RuleStates().Save(ctx, store.RuleStateFromRule(r)))

	states, err := s.RuleStates().List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.JSONEq(t, `{"asset":"KRW-BTC","reason":"익절","trade_type":"매도","target":"95000000","unit":"KRW","condition":"이상","quantity":"50%","price_mode":"market","expiry":"2026-12-31","active":true}`, string(states[0].RuleJSON))

	restored := store.RuntimesByRule(states)[r.ID]
	assert.Equal(t, rule.StateFired, restored.State)
	assert.Equal(t, 2, restored.RetryCount)
	assert.Equal(t, "order-1", restored.OrderID)
	assert.True(t, restored.HasBaseline)
	assert.Equal(t, "93000000.5", restored.Baseline.String())

	missing, err := s.RuleStates().FindByRuleID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOrders_UpsertByIdentifier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	intent := exchange.OrderIntent{
		Market:     "KRW-BTC",
		Side:       exchange.SideSell,
		Quantity:   decimal.RequireFromString("0.001"),
		PriceMode:  exchange.MarketPrice(),
		Identifier: "id-1",
		RuleID:     "rule-1",
	}
	price := decimal.NewFromInt(95_000_000)
	unknown := store.OrderFromIntent(intent, price, model.OrderStatusUnknown, exchange.OrderResult{}, errors.New("timeout"))
	require.NoError(t, s.Orders().Save(ctx, unknown))

	accepted := store.OrderFromIntent(intent, price, model.OrderStatusAccepted,
		exchange.OrderResult{OrderID: "ex-1", Raw: []byte(`{"uuid":"ex-1"}`), AcceptedAt: time.Unix(1_767_225_700, 0)}, nil)
	require.NoError(t, store.WithTx(ctx, s, func(uow store.UnitOfWork) error {
		return uow.Orders().Save(ctx, accepted)
	}))

	got, err := s.Orders().FindByIdentifier(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusAccepted, got.Status)
	assert.Equal(t, "ex-1", got.ExchangeID)
	assert.Empty(t, got.Error)
	assert.Equal(t, "0.001", got.Quantity)
	assert.Equal(t, "ask", got.Side)

	byRule, err := s.Orders().ListByRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Len(t, byRule, 1)
}

func TestOrders_ListRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		rec := &model.OrderModel{Identifier: id, Status: model.OrderStatusPaper, SubmittedUnix: int64(100 + i)}
		require.NoError(t, s.Orders().Save(ctx, rec))
	}
	orders, err := s.Orders().ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].Identifier)
	assert.Equal(t, "b", orders[1].Identifier)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.WithTx(ctx, s, func(uow store.UnitOfWork) error {
		require.NoError(t, uow.Orders().Save(ctx, &model.OrderModel{Identifier: "tx", Status: model.OrderStatusPaper}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Orders().FindByIdentifier(ctx, "tx")
	require.NoError(t, err)
	assert.Nil(t, got)
}
