package backtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRun(id string) *Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Run{
		ID:             id,
		Strategy:       "sma_crossover",
		Symbol:         "BTCUSDT",
		Timeframe:      "1h",
		Status:         RunStatusPending,
		StartTS:        1_700_000_000_000,
		EndTS:          1_700_100_000_000,
		InitialCapital: 10000,
		Config: RunConfig{
			Strategy:       "sma_crossover",
			Symbol:         "BTCUSDT",
			Timeframe:      "1h",
			StartTS:        1_700_000_000_000,
			EndTS:          1_700_100_000_000,
			InitialCapital: 10000,
			CommissionRate: 0.0004,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRunInsertGetUpdate(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	run := sampleRun("run-1")
	require.NoError(t, store.InsertRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "sma_crossover", got.Strategy)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, 0.0004, got.Config.CommissionRate)
	assert.True(t, got.CompletedAt.IsZero())

	run.Status = RunStatusDone
	run.FinalCapital = 10250
	run.Profit = 250
	run.Stats = RunStats{FinalCapital: 10250, Profit: 250, Trades: 2, Wins: 2}
	run.CompletedAt = time.Now().UTC()
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 10250.0, got.FinalCapital)
	assert.Equal(t, 2, got.Stats.Wins)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestResultStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 不存在")
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()

	first := sampleRun("run-a")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.InsertRun(ctx, first))
	second := sampleRun("run-b")
	require.NoError(t, store.InsertRun(ctx, second))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "run-a", runs[1].ID)
}

func TestTradeEquitySignalRoundTrip(t *testing.T) {
	store := newTestResultStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertRun(ctx, sampleRun("run-x")))

	opened := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	closed := opened.Add(30 * time.Second)
	require.NoError(t, store.InsertTrades(ctx, "run-x", []TradeRecord{{
		Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.1,
		EntryPrice: 40000, ExitPrice: 41000, PnL: 100, Commission: 3.2,
		ExitReason: "signal", OpenedAt: opened, ClosedAt: closed,
	}}))
	require.NoError(t, store.InsertEquity(ctx, "run-x", []EquityRecord{
		{TS: 1, Equity: 10000, Price: 40000},
		{TS: 2, Equity: 10100, Price: 41000},
	}))
	require.NoError(t, store.InsertSignals(ctx, "run-x", []SignalRecord{
		{TS: 1, Action: "buy", Price: 40000, Reason: "bullish_crossover"},
	}))

	trades, err := store.ListTrades(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 100.0, trades[0].PnL)
	assert.Equal(t, "signal", trades[0].ExitReason)
	assert.WithinDuration(t, closed, trades[0].ClosedAt, time.Second)

	equity, err := store.ListEquity(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, equity, 2)
	assert.Equal(t, int64(1), equity[0].TS)
	assert.Equal(t, 10100.0, equity[1].Equity)

	signals, err := store.ListSignals(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "buy", signals[0].Action)
}
