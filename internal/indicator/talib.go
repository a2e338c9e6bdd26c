package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// 扩展指标走 talib，内部按 float64 计算后回到 decimal。
// 精度不保证逐位可复现到任意平台，仅作为策略的参考输入；
// 核心三个指标（SMA/EMA/RSI）不经过这里。

// MACD 返回 MACD 线最新值。参数 fast/slow/signal 缺省 12/26/9。
func MACD(prices []decimal.Decimal, spec Spec) (decimal.Decimal, bool) {
	fast := paramOr(spec, "fast", 12)
	slow := paramOr(spec, "slow", 26)
	signal := paramOr(spec, "signal", 9)
	if len(prices) < slow+signal {
		return decimal.Zero, false
	}
	closes := toFloats(prices)
	macd, _, _ := talib.Macd(closes, fast, slow, signal)
	v, ok := lastValid(macd)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

// ROC 返回 rate-of-change 最新值（百分比）。
func ROC(prices []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(prices) < period+1 {
		return decimal.Zero, false
	}
	series := talib.Roc(toFloats(prices), period)
	v, ok := lastValid(series)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

func paramOr(spec Spec, key string, def int) int {
	if v, ok := spec.Params[key]; ok && v > 0 {
		return v
	}
	return def
}

func toFloats(prices []decimal.Decimal) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p.InexactFloat64()
	}
	return out
}

// lastValid 取序列末尾最后一个可用值。0 是合法输出（平盘序列的
// MACD/ROC 就是 0），只有 NaN/Inf 视为无效。
func lastValid(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}
