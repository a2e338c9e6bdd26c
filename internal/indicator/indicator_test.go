package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prices(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(vals))
	for _, v := range vals {
		out = append(out, decimal.NewFromFloat(v))
	}
	return out
}

func TestSMA(t *testing.T) {
	v, ok := SMA(prices(1, 2, 3, 4, 5), 3)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(4)), "got %s", v)

	_, ok = SMA(prices(1, 2), 3)
	assert.False(t, ok, "历史不足时不应形成")

	_, ok = SMA(prices(1, 2, 3), 0)
	assert.False(t, ok)
}

func TestEMASeedsFromFirstPrice(t *testing.T) {
	// period=3 → m=0.5：ema 依次为 10, 15, 17.5
	v, ok := EMA(prices(10, 20, 20), 3)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(17.5)), "got %s", v)

	// 价格恒定时 EMA 等于该价格
	v, ok = EMA(prices(42, 42, 42, 42, 42), 4)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(42)))
}

func TestRSI(t *testing.T) {
	// 全部上涨 → avgLoss=0 → 100
	v, ok := RSI(prices(1, 2, 3, 4, 5), 4)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(100)))

	// 涨跌对半且幅度相同 → RS=1 → 50
	v, ok = RSI(prices(10, 11, 10, 11, 10), 4)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(50)), "got %s", v)

	// 需要 period+1 个价格
	_, ok = RSI(prices(1, 2, 3, 4), 4)
	assert.False(t, ok)
}

func TestComputeSkipsUnformedIndicators(t *testing.T) {
	specs := []Spec{
		{Name: "sma_short", Kind: KindSMA, Params: map[string]int{"period": 3}},
		{Name: "sma_long", Kind: KindSMA, Params: map[string]int{"period": 50}},
		{Name: "rsi", Kind: KindRSI, Params: map[string]int{"period": 3}},
	}
	values := Compute(specs, prices(1, 2, 3, 4, 5))

	require.Contains(t, values, "sma_short")
	require.Contains(t, values, "rsi")
	_, present := values["sma_long"]
	assert.False(t, present, "历史不足的指标应缺席")
}

func TestComputeDefaults(t *testing.T) {
	ps := make([]float64, 60)
	for i := range ps {
		ps[i] = 100 + float64(i)
	}
	specs := []Spec{
		{Name: "sma", Kind: KindSMA},
		{Name: "ema", Kind: KindEMA},
		{Name: "rsi", Kind: KindRSI},
		{Name: "roc", Kind: KindROC},
	}
	values := Compute(specs, prices(ps...))
	assert.Len(t, values, 4)
	// 默认 SMA(20)：最近 20 个均值
	assert.True(t, values["sma"].Equal(decimal.NewFromFloat(149.5)), "got %s", values["sma"])
	assert.True(t, values["rsi"].Equal(decimal.NewFromInt(100)))
}

func TestROCFlatSeriesIsZero(t *testing.T) {
	// 平盘序列的 ROC 恒为 0，0 是合法值而不是"未形成"。
	flat := make([]float64, 12)
	for i := range flat {
		flat[i] = 5
	}
	v, ok := ROC(prices(flat...), 9)
	require.True(t, ok)
	assert.True(t, v.IsZero(), "got %s", v)
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
	}
	v, ok := MACD(prices(flat...), Spec{})
	require.True(t, ok)
	assert.True(t, v.IsZero(), "got %s", v)
}

func TestSpecPeriod(t *testing.T) {
	assert.Equal(t, 14, Spec{}.Period(14))
	assert.Equal(t, 7, Spec{Params: map[string]int{"period": 7}}.Period(14))
	assert.Equal(t, 14, Spec{Params: map[string]int{"period": -1}}.Period(14))
}
