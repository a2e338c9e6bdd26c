package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/strategy"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(SimulatorConfig{
		CandleStore:    newTestStore(t),
		ResultStore:    newTestResultStore(t),
		Registry:       strategy.NewStaticRegistry(),
		InitialCapital: 5000,
		CommissionRate: 0.002,
		SlippageRate:   0.001,
		SnapshotWindow: 50,
	})
	require.NoError(t, err)
	return sim
}

func waitRun(t *testing.T, sim *Simulator, id string) *Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := sim.GetRun(context.Background(), id)
		require.NoError(t, err)
		if run.Status == RunStatusDone || run.Status == RunStatusFailed {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s 未在限时内结束", id)
	return nil
}

func TestStartRunInheritsConfiguredDefaults(t *testing.T) {
	sim := newTestSimulator(t)

	start := int64(1_700_000_000_000)
	run, err := sim.StartRun(RunRequest{
		Symbol:  "btcusdt",
		StartTS: start,
		EndTS:   start + 48*3_600_000,
	})
	require.NoError(t, err)

	assert.Equal(t, "sma_crossover", run.Strategy)
	assert.Equal(t, "BTCUSDT", run.Symbol)
	assert.Equal(t, "1h", run.Timeframe)
	assert.Equal(t, 5000.0, run.InitialCapital)
	assert.Equal(t, 0.002, run.Config.CommissionRate)
	assert.Equal(t, 0.001, run.Config.SlippageRate)

	// 本地没有任何 K 线：回放降级为零活动，但任务正常完成。
	done := waitRun(t, sim, run.ID)
	assert.Equal(t, RunStatusDone, done.Status)
	assert.Equal(t, 5000.0, done.FinalCapital)
	assert.Equal(t, 0, done.Trades)
}

func TestStartRunRequestOverridesDefaults(t *testing.T) {
	sim := newTestSimulator(t)

	start := int64(1_700_000_000_000)
	run, err := sim.StartRun(RunRequest{
		Symbol:         "ethusdt",
		StartTS:        start,
		EndTS:          start + 48*3_600_000,
		InitialCapital: 200,
		CommissionRate: 0.01,
	})
	require.NoError(t, err)

	assert.Equal(t, 200.0, run.InitialCapital)
	assert.Equal(t, 0.01, run.Config.CommissionRate)
	// 未覆盖的参数仍取配置缺省值
	assert.Equal(t, 0.001, run.Config.SlippageRate)
}
