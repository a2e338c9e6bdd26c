package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle 表示一根 OHLCV K 线。价格与成交量使用 decimal，
// 保证回测账务可精确重放。
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  int64           `json:"open_time"`
	CloseTime int64           `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Trades    int64           `json:"trades"`
}

// Timestamp 返回收盘时刻（回测以收盘价作为 mark price）。
func (c Candle) Timestamp() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// HasPrice 判断该 K 线是否携带可用价格。
func (c Candle) HasPrice() bool {
	return c.Close.IsPositive()
}

type Candles []Candle

// Closes 按时间顺序抽取收盘价序列。
func (cs Candles) Closes() []decimal.Decimal {
	out := make([]decimal.Decimal, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Tail 返回最近 n 根 K 线（不足 n 根时返回全部）。
func (cs Candles) Tail(n int) Candles {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}

// Floats 将收盘价转换为 float64 序列，供 talib 类指标使用。
func (cs Candles) Floats() (closes, highs, lows []float64) {
	closes = make([]float64, len(cs))
	highs = make([]float64, len(cs))
	lows = make([]float64, len(cs))
	for i, c := range cs {
		closes[i] = c.Close.InexactFloat64()
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}
	return closes, highs, lows
}
