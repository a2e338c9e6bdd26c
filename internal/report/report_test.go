package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Input{
		Title:          "sma_crossover BTCUSDT@1h",
		InitialCapital: 10000,
		FinalCapital:   10200,
		ReturnPct:      2,
		WinRate:        100,
		MaxDrawdownPct: 1.5,
		Trades:         1,
		Equity: []EquityPoint{
			{Time: base, Equity: 10000, Price: 40000},
			{Time: base.Add(time.Hour), Equity: 10100, Price: 41000},
			{Time: base.Add(2 * time.Hour), Equity: 10200, Price: 42000},
		},
		TradeMarks: []TradeMark{
			{Time: base.Add(2 * time.Hour), PnL: 200},
		},
	}
}

func TestRenderSelfContainedHTML(t *testing.T) {
	html, err := Render(sampleInput())
	require.NoError(t, err)

	s := string(html)
	assert.Contains(t, s, "sma_crossover BTCUSDT@1h")
	assert.Contains(t, s, "Drawdown")
	assert.Contains(t, s, "Trade PnL")
}

func TestRenderRequiresEquity(t *testing.T) {
	in := sampleInput()
	in.Equity = nil
	_, err := Render(in)
	assert.Error(t, err)
}
