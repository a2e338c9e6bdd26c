package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"vela/internal/ledger"
	"vela/internal/market"
)

// AccountState 是快照时刻的资金视图。
type AccountState struct {
	Balance  decimal.Decimal `json:"balance"`
	Equity   decimal.Decimal `json:"equity"`
	Currency string          `json:"currency"`
}

// Snapshot 是引擎在每根 K 线收盘后交给策略的只读上下文。
// 其中的切片与 map 都是拷贝，策略可以随意读取，修改不会
// 影响引擎状态。
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`

	// Candles 为截至当前的最近一段历史（含当前根），长度受
	// 引擎的窗口上限约束。
	Candles      market.Candles  `json:"candles"`
	CurrentPrice decimal.Decimal `json:"current_price"`

	// Indicators 按策略声明的名字给出指标值；历史不足尚未形成的
	// 指标不会出现在 map 中。
	Indicators map[string]decimal.Decimal `json:"indicators"`

	Account AccountState `json:"account"`

	// Positions 是当前 symbol 上的持仓，AllPositions 是账户全部持仓。
	Positions    []ledger.Position `json:"positions"`
	AllPositions []ledger.Position `json:"all_positions"`
}

// Indicator 按名字取指标值，第二返回值表示指标是否已形成。
func (s *Snapshot) Indicator(name string) (decimal.Decimal, bool) {
	v, ok := s.Indicators[name]
	return v, ok
}

// HasPosition 表示当前 symbol 是否有持仓。
func (s *Snapshot) HasPosition() bool {
	return len(s.Positions) > 0
}

// Position 返回当前 symbol 的持仓（无持仓时返回 nil）。
func (s *Snapshot) Position() *ledger.Position {
	if len(s.Positions) == 0 {
		return nil
	}
	return &s.Positions[0]
}
