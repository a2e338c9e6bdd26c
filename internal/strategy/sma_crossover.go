package strategy

import (
	"github.com/shopspring/decimal"

	"vela/internal/indicator"
)

// 金叉死叉状态。
const (
	crossNone    = ""
	crossBullish = "bullish"
	crossBearish = "bearish"
)

// SMACrossover 是双均线交叉示例策略：快线上穿慢线买入，
// 下穿平仓。主要用于验证回放链路，不代表可盈利的参数。
type SMACrossover struct {
	BaseStrategy

	FastPeriod int
	SlowPeriod int

	lastCross string
}

// NewSMACrossover 构造双均线策略，period 非法时落到 10/50。
func NewSMACrossover(fastPeriod, slowPeriod int) *SMACrossover {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = 50
	}
	return &SMACrossover{FastPeriod: fastPeriod, SlowPeriod: slowPeriod}
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

// WarmupCandles 需要慢线形成并留出若干根余量。
func (s *SMACrossover) WarmupCandles() int { return s.SlowPeriod + 10 }

func (s *SMACrossover) RequiredIndicators() []indicator.Spec {
	return []indicator.Spec{
		{Name: "sma_fast", Kind: indicator.KindSMA, Params: map[string]int{"period": s.FastPeriod}},
		{Name: "sma_slow", Kind: indicator.KindSMA, Params: map[string]int{"period": s.SlowPeriod}},
	}
}

func (s *SMACrossover) Initialize() error {
	s.lastCross = crossNone
	return nil
}

func (s *SMACrossover) OnCandle(snapshot *Snapshot) (Signal, error) {
	fast, okFast := snapshot.Indicator("sma_fast")
	slow, okSlow := snapshot.Indicator("sma_slow")
	if !okFast || !okSlow {
		return Hold("indicators not ready"), nil
	}

	bullish := fast.GreaterThan(slow)
	bearish := fast.LessThan(slow)

	// 只有状态翻转才算交叉，首次形成方向不触发信号。
	crossedUp := bullish && s.lastCross == crossBearish
	crossedDown := bearish && s.lastCross == crossBullish

	if bullish {
		s.lastCross = crossBullish
	} else if bearish {
		s.lastCross = crossBearish
	}

	switch {
	case crossedUp && !snapshot.HasPosition():
		price := snapshot.CurrentPrice
		return Signal{
			Action:       ActionBuy,
			Symbol:       snapshot.Symbol,
			PositionSize: decimal.RequireFromString("0.02"),
			EntryPrice:   price,
			StopLoss:     price.Mul(decimal.RequireFromString("0.98")),
			TakeProfit:   price.Mul(decimal.RequireFromString("1.04")),
			Confidence:   decimal.RequireFromString("0.7"),
			Reason:       "bullish_crossover",
		}, nil
	case crossedDown && snapshot.HasPosition():
		return Signal{
			Action:     ActionClose,
			Symbol:     snapshot.Symbol,
			Confidence: decimal.RequireFromString("0.7"),
			Reason:     "bearish_crossover",
		}, nil
	}
	return Hold(""), nil
}
