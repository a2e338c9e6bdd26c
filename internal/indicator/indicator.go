package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// Kind 标识指标类型。
type Kind string

const (
	KindSMA  Kind = "sma"
	KindEMA  Kind = "ema"
	KindRSI  Kind = "rsi"
	KindMACD Kind = "macd"
	KindROC  Kind = "roc"
)

// Spec 描述策略声明的单个指标：名字 + 类型 + 参数。
// 引擎按 Spec 逐根 K 线重算，并以 Name 写入快照。
type Spec struct {
	Name   string         `json:"name"`
	Kind   Kind           `json:"kind"`
	Params map[string]int `json:"params,omitempty"`
}

// Period 取参数中的 period，缺省时返回 def。
func (s Spec) Period(def int) int {
	if v, ok := s.Params["period"]; ok && v > 0 {
		return v
	}
	return def
}

// SMA 计算最近 period 个价格的算术平均。
// 历史不足时返回 ok=false，表示该指标尚未形成。
func SMA(prices []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(prices) < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range prices[len(prices)-period:] {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// EMA 计算指数移动平均。种子取序列首个价格，之后按
// price·m + prev·(1−m) 递推（m = 2/(period+1)）。
// 用首价做种子而非额外预热段，是刻意保留的近似。
func EMA(prices []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(prices) < period {
		return decimal.Zero, false
	}
	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period) + 1))
	inverse := decimal.NewFromInt(1).Sub(multiplier)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p.Mul(multiplier).Add(ema.Mul(inverse))
	}
	return ema, true
}

// RSI 计算相对强弱指数：对最近 period 个涨跌幅取简单平均，
// 平均跌幅为零时返回 100。需要至少 period+1 个价格。
// 结果保留两位小数。
func RSI(prices []decimal.Decimal, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(prices) < period+1 {
		return decimal.Zero, false
	}
	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change, _ := prices[i].Sub(prices[i-1]).Float64()
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}
	var avgGain, avgLoss float64
	for _, g := range gains[len(gains)-period:] {
		avgGain += g
	}
	for _, l := range losses[len(losses)-period:] {
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	if avgLoss == 0 {
		return decimal.NewFromInt(100), true
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return decimal.NewFromFloat(math.Round(rsi*100) / 100), true
}

// Compute 按声明批量计算指标。历史不足的指标不会出现在结果中，
// 调用方以"键不存在"判断指标缺席。
func Compute(specs []Spec, closes []decimal.Decimal) map[string]decimal.Decimal {
	values := make(map[string]decimal.Decimal, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case KindSMA:
			if v, ok := SMA(closes, spec.Period(20)); ok {
				values[spec.Name] = v
			}
		case KindEMA:
			if v, ok := EMA(closes, spec.Period(20)); ok {
				values[spec.Name] = v
			}
		case KindRSI:
			if v, ok := RSI(closes, spec.Period(14)); ok {
				values[spec.Name] = v
			}
		case KindMACD:
			if v, ok := MACD(closes, spec); ok {
				values[spec.Name] = v
			}
		case KindROC:
			if v, ok := ROC(closes, spec.Period(9)); ok {
				values[spec.Name] = v
			}
		}
	}
	return values
}
