package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickLog_InsertRecentPrune(t *testing.T) {
	log, err := NewTickLog(filepath.Join(t.TempDir(), "ticks.db"))
	require.NoError(t, err)
	defer log.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = log.Insert(ctx, TickRecord{StartedAt: base, Duration: 120 * time.Millisecond, Active: 3, Evaluated: 3})
	require.NoError(t, err)
	id, err := log.Insert(ctx, TickRecord{
		StartedAt: base.Add(time.Minute),
		Duration:  80 * time.Millisecond,
		Active:    3,
		Evaluated: 2,
		Triggered: 1,
		Fired:     1,
		Prices:    map[string]string{"KRW-BTC": "95000000"},
		Error:     "partial",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	recs, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Fired)
	assert.Equal(t, "95000000", recs[0].Prices["KRW-BTC"])
	assert.Equal(t, "partial", recs[0].Error)
	assert.Equal(t, 80*time.Millisecond, recs[0].Duration)
	assert.True(t, recs[0].StartedAt.Equal(base.Add(time.Minute)))
	assert.Nil(t, recs[1].Prices)

	n, err := log.Prune(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, log.Close())
	_, err = log.Recent(ctx, 1)
	assert.Error(t, err)
}
