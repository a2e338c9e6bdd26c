package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vela/internal/ledger"
)

func snapWithSMA(fast, slow string, hasPosition bool) *Snapshot {
	s := &Snapshot{
		Symbol:       "BTCUSDT",
		CurrentPrice: decimal.RequireFromString("100"),
		Indicators: map[string]decimal.Decimal{
			"sma_fast": decimal.RequireFromString(fast),
			"sma_slow": decimal.RequireFromString(slow),
		},
	}
	if hasPosition {
		s.Positions = []ledger.Position{{Symbol: "BTCUSDT", Side: ledger.Long}}
	}
	return s
}

func TestSMACrossoverSignals(t *testing.T) {
	s := NewSMACrossover(10, 50)
	require.NoError(t, s.Initialize())

	// 第一根：形成 bearish 状态，但不是交叉
	sig, err := s.OnCandle(snapWithSMA("90", "100", false))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	// 上穿：买入信号，带止损止盈
	sig, err = s.OnCandle(snapWithSMA("105", "100", false))
	require.NoError(t, err)
	require.Equal(t, ActionBuy, sig.Action)
	assert.True(t, sig.PositionSize.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, sig.StopLoss.Equal(decimal.RequireFromString("98")), "stop loss %s", sig.StopLoss)
	assert.True(t, sig.TakeProfit.Equal(decimal.RequireFromString("104")), "take profit %s", sig.TakeProfit)
	assert.Equal(t, "bullish_crossover", sig.Reason)

	// 继续在上方：不重复开仓
	sig, err = s.OnCandle(snapWithSMA("106", "100", true))
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)

	// 下穿且有持仓：平仓
	sig, err = s.OnCandle(snapWithSMA("95", "100", true))
	require.NoError(t, err)
	assert.Equal(t, ActionClose, sig.Action)
	assert.Equal(t, "bearish_crossover", sig.Reason)
}

func TestSMACrossoverHoldsUntilIndicatorsReady(t *testing.T) {
	s := NewSMACrossover(10, 50)
	require.NoError(t, s.Initialize())

	sig, err := s.OnCandle(&Snapshot{Indicators: map[string]decimal.Decimal{}})
	require.NoError(t, err)
	assert.Equal(t, ActionHold, sig.Action)
	assert.False(t, sig.IsActionable())
}

func TestSMACrossoverDeterministic(t *testing.T) {
	run := func() []Action {
		s := NewSMACrossover(10, 50)
		require.NoError(t, s.Initialize())
		pairs := [][2]string{{"90", "100"}, {"105", "100"}, {"110", "100"}, {"95", "100"}, {"105", "100"}}
		var out []Action
		hasPos := false
		for _, p := range pairs {
			sig, err := s.OnCandle(snapWithSMA(p[0], p[1], hasPos))
			require.NoError(t, err)
			if sig.Action == ActionBuy {
				hasPos = true
			}
			if sig.Action == ActionClose {
				hasPos = false
			}
			out = append(out, sig.Action)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestRegistryBuildFromProfileFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	content := `strategies:
  sma_fast_test:
    kind: sma_crossover
    description: test profile
    default: true
    params:
      fast_period: 5
      slow_period: 15
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := NewRegistry(path)
	require.NoError(t, err)

	st, err := r.Build("sma_fast_test")
	require.NoError(t, err)
	sma, ok := st.(*SMACrossover)
	require.True(t, ok)
	assert.Equal(t, 5, sma.FastPeriod)
	assert.Equal(t, 15, sma.SlowPeriod)

	// 空名字命中 default profile
	st, err = r.Build("")
	require.NoError(t, err)
	assert.Equal(t, "sma_crossover", st.Name())

	_, err = r.Build("missing")
	assert.Error(t, err)

	// profile 快照与策略决策快照是两个独立类型，各自可用
	snap := r.SnapshotProfiles()
	require.Contains(t, snap.Profiles, "sma_fast_test")
	assert.Equal(t, int64(1), snap.Version)
	var decision Snapshot
	assert.False(t, decision.HasPosition())
}

func TestRegistryRejectsInvalidParams(t *testing.T) {
	r := NewStaticRegistry()
	_, err := r.BuildFromProfile(Profile{
		Name: "bad",
		Kind: "sma_crossover",
		Params: map[string]any{
			"fast_period": "ten",
		},
	})
	assert.Error(t, err)
}

func TestRegistryUnknownKind(t *testing.T) {
	r := NewStaticRegistry()
	_, err := r.BuildFromProfile(Profile{Name: "x", Kind: "nope"})
	assert.Error(t, err)
}
