package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionSide 表示持仓方向。
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Position 表示单个 symbol 上的聚合持仓。同方向加仓按成交量
// 加权重算入场价，而不是维护多笔 lot，这是有意的简化。
type Position struct {
	ID         string       `json:"id"`
	StrategyID string       `json:"strategy_id"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	CurrentPrice decimal.Decimal `json:"current_price"`

	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`

	EntryCommission decimal.Decimal `json:"entry_commission"`
	ExitCommission  decimal.Decimal `json:"exit_commission"`

	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at,omitempty"`
	ExitPrice  decimal.Decimal `json:"exit_price,omitempty"`
	ExitReason string          `json:"exit_reason,omitempty"`
}

func newPosition(strategyID, symbol string, side PositionSide, price, quantity decimal.Decimal, ts time.Time) *Position {
	return &Position{
		ID:           uuid.NewString(),
		StrategyID:   strategyID,
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   price,
		Quantity:     quantity,
		CurrentPrice: price,
		OpenedAt:     ts,
	}
}

// IsOpen 表示持仓尚未关闭。
func (p *Position) IsOpen() bool {
	return p.ClosedAt.IsZero()
}

// UnrealizedPnL 按当前 mark price 计算浮动盈亏。
func (p *Position) UnrealizedPnL() decimal.Decimal {
	if p.Side == Long {
		return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	}
	return p.EntryPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
}

// RealizedPnL 返回已实现盈亏：(exit − entry) × qty 扣除两端手续费，
// 空头取镜像符号。持仓未关闭时 ok=false。
func (p *Position) RealizedPnL() (decimal.Decimal, bool) {
	if p.IsOpen() || p.ExitPrice.IsZero() {
		return decimal.Zero, false
	}
	var gross decimal.Decimal
	if p.Side == Long {
		gross = p.ExitPrice.Sub(p.EntryPrice).Mul(p.Quantity)
	} else {
		gross = p.EntryPrice.Sub(p.ExitPrice).Mul(p.Quantity)
	}
	return gross.Sub(p.EntryCommission).Sub(p.ExitCommission), true
}

// CostBasis 返回建仓成本（不含手续费）。
func (p *Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(p.Quantity)
}

// NotionalValue 返回当前名义价值。
func (p *Position) NotionalValue() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Quantity)
}

func (p *Position) updatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
}

// averageIn 同向加仓：入场价按量加权重算，数量与入场手续费累加。
func (p *Position) averageIn(price, quantity, commission decimal.Decimal) {
	total := p.Quantity.Add(quantity)
	p.EntryPrice = p.EntryPrice.Mul(p.Quantity).Add(price.Mul(quantity)).Div(total)
	p.Quantity = total
	p.CurrentPrice = price
	p.EntryCommission = p.EntryCommission.Add(commission)
}

func (p *Position) close(exitPrice, exitCommission decimal.Decimal, reason string, ts time.Time) {
	p.ExitPrice = exitPrice
	p.ExitCommission = p.ExitCommission.Add(exitCommission)
	p.ExitReason = reason
	p.ClosedAt = ts
	p.CurrentPrice = exitPrice
}
