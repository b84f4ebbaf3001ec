package rule

import (
	"slices"
	"testing"
	"time"

	"upbitmt/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*60*60)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, kst)
}

func sampleRule(asset, reason string, target int64) WatchRule {
	return WatchRule{
		Asset:     asset,
		Reason:    reason,
		TradeType: TradeSell,
		Target:    decimal.NewFromInt(target),
		PriceUnit: UnitAbsolute,
		Condition: GreaterOrEqual,
		Quantity:  Percent(decimal.NewFromInt(50)),
		PriceMode: exchange.MarketPrice(),
		Expiry:    day(2026, 12, 31),
		Active:    true,
	}
}

func ids(seq func(func(WatchRule) bool)) []string {
	var out []string
	for r := range seq {
		out = append(out, r.ID)
	}
	return out
}

func TestStore_LoadAssignsIdentityInOrder(t *testing.T) {
	s := NewStore(3)
	sum := s.Load([]WatchRule{
		sampleRule("KRW-BTC", "tp", 95000000),
		sampleRule("KRW-ETH", "tp", 5000000),
		sampleRule("KRW-BTC", "tp", 95000000),
	})

	assert.Equal(t, 3, sum.Added)
	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, "KRW-BTC|tp|매도|95000000|KRW", all[0].ID)
	assert.Equal(t, "KRW-ETH|tp|매도|5000000|KRW", all[1].ID)
	assert.Equal(t, "KRW-BTC|tp|매도|95000000|KRW#2", all[2].ID)
	for _, r := range all {
		assert.Equal(t, StatePending, r.Runtime.State)
	}
}

func TestStore_ActiveRulesFiltersAndRestarts(t *testing.T) {
	s := NewStore(3)
	inactive := sampleRule("KRW-XRP", "off", 1000)
	inactive.Active = false
	old := sampleRule("KRW-SOL", "old", 100)
	old.Expiry = day(2026, 1, 1)
	s.Load([]WatchRule{
		sampleRule("KRW-BTC", "a", 1),
		inactive,
		old,
		sampleRule("KRW-ETH", "b", 2),
	})
	today := day(2026, 6, 1)

	first := ids(s.ActiveRules(today))
	assert.Equal(t, []string{"KRW-BTC|a|매도|1|KRW", "KRW-ETH|b|매도|2|KRW"}, first)

	_, err := s.MarkFired("KRW-BTC|a|매도|1|KRW", "order-1")
	require.NoError(t, err)

	seq := s.ActiveRules(today)
	assert.Equal(t, []string{"KRW-ETH|b|매도|2|KRW"}, ids(seq))
	assert.Equal(t, ids(seq), ids(seq), "sequence must be restartable")
}

func TestStore_ActiveRulesIncludesExpiryDay(t *testing.T) {
	s := NewStore(3)
	r := sampleRule("KRW-BTC", "a", 1)
	r.Expiry = day(2026, 6, 1)
	s.Load([]WatchRule{r})

	assert.Len(t, ids(s.ActiveRules(day(2026, 6, 1).Add(23*time.Hour))), 1)
	assert.Empty(t, ids(s.ActiveRules(day(2026, 6, 2))))
}

func TestStore_TransitionsAreOneWay(t *testing.T) {
	s := NewStore(3)
	s.Load([]WatchRule{sampleRule("KRW-BTC", "a", 1)})
	id := s.All()[0].ID

	fired, err := s.MarkFired(id, "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, StateFired, fired.Runtime.State)
	assert.Equal(t, "uuid-1", fired.Runtime.OrderID)

	_, err = s.MarkExpired(id)
	assert.ErrorIs(t, err, ErrTerminal)
	_, _, err = s.MarkFailed(id, "boom")
	assert.ErrorIs(t, err, ErrTerminal)

	got, _ := s.Get(id)
	assert.Equal(t, StateFired, got.Runtime.State)

	_, err = s.MarkFired("missing", "x")
	assert.ErrorIs(t, err, ErrUnknownRule)
}

func TestStore_MarkFailedHonoursCeiling(t *testing.T) {
	s := NewStore(3)
	s.Load([]WatchRule{sampleRule("KRW-BTC", "a", 1)})
	id := s.All()[0].ID

	for i := 1; i <= 2; i++ {
		r, terminal, err := s.MarkFailed(id, "rate limited")
		require.NoError(t, err)
		assert.False(t, terminal)
		assert.Equal(t, StatePending, r.Runtime.State)
		assert.Equal(t, i, r.Runtime.RetryCount)
	}
	r, terminal, err := s.MarkFailed(id, "rate limited")
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Equal(t, StateFailed, r.Runtime.State)
	assert.Equal(t, 3, r.Runtime.RetryCount)
	assert.Empty(t, ids(s.ActiveRules(day(2026, 6, 1))))
}

func TestStore_ReloadPreservesRuntimeState(t *testing.T) {
	s := NewStore(3)
	src := []WatchRule{
		sampleRule("KRW-BTC", "a", 1),
		sampleRule("KRW-ETH", "b", 2),
		sampleRule("KRW-XRP", "c", 3),
	}
	s.Load(src)
	all := s.All()
	_, _, err := s.MarkFailed(all[0].ID, "timeout")
	require.NoError(t, err)
	_, err = s.MarkFired(all[1].ID, "o-1")
	require.NoError(t, err)
	_, err = s.SetBaseline(all[2].ID, decimal.NewFromInt(700))
	require.NoError(t, err)

	t.Run("unchanged source", func(t *testing.T) {
		sum := s.Load(src)
		assert.Equal(t, 3, sum.Kept)
		assert.Equal(t, 0, sum.Added)
		assert.Equal(t, 1, sum.Terminal)

		after := s.All()
		assert.Equal(t, 1, after[0].Runtime.RetryCount)
		assert.Equal(t, StateFired, after[1].Runtime.State)
		assert.True(t, after[2].Runtime.HasBaseline)
		assert.True(t, after[2].Runtime.Baseline.Equal(decimal.NewFromInt(700)))
	})

	t.Run("edited source", func(t *testing.T) {
		edited := slices.Clone(src)
		edited[1].Quantity = Units(decimal.NewFromInt(1))
		edited = append(edited[:2], sampleRule("KRW-DOGE", "d", 4))
		sum := s.Load(edited)

		assert.Equal(t, 1, sum.Added)
		require.Len(t, sum.Removed, 1)
		assert.Equal(t, "KRW-XRP", sum.Removed[0].Asset)
		got, ok := s.Get(edited[1].Identity())
		require.True(t, ok)
		assert.Equal(t, StateFired, got.Runtime.State, "a fired rule is never re-armed by reload")
	})
}

func TestStore_SweepExpiresOnce(t *testing.T) {
	s := NewStore(3)
	r := sampleRule("KRW-BTC", "a", 1)
	r.Expiry = day(2026, 3, 1)
	s.Load([]WatchRule{r, sampleRule("KRW-ETH", "b", 2)})

	expired := s.Sweep(day(2026, 3, 2))
	require.Len(t, expired, 1)
	assert.Equal(t, StateExpired, expired[0].Runtime.State)
	assert.Empty(t, s.Sweep(day(2026, 3, 3)))
	assert.Equal(t, 1, s.Counts()["expired"])
	assert.Equal(t, 1, s.Counts()["pending"])
}

func TestStore_SetBaselineOnlyOnce(t *testing.T) {
	s := NewStore(3)
	s.Load([]WatchRule{sampleRule("KRW-BTC", "a", 1)})
	id := s.All()[0].ID

	_, err := s.SetBaseline(id, decimal.NewFromInt(100))
	require.NoError(t, err)
	r, err := s.SetBaseline(id, decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.True(t, r.Runtime.Baseline.Equal(decimal.NewFromInt(100)))
}

func TestStore_Restore(t *testing.T) {
	s := NewStore(3)
	s.Load([]WatchRule{sampleRule("KRW-BTC", "a", 1)})
	id := s.All()[0].ID

	n := s.Restore(map[string]Runtime{
		id:      {State: StateFired, OrderID: "o-9"},
		"other": {State: StateFailed},
	})
	assert.Equal(t, 1, n)
	assert.Empty(t, ids(s.ActiveRules(day(2026, 1, 1))))
}
