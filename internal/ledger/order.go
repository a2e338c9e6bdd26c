package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide 表示委托方向。
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderType 表示委托执行方式。
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// OrderStatus 表示委托生命周期状态。状态只会向终态单向推进，
// 终态（filled/cancelled/rejected/expired）之后不再变化。
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Order 表示一笔模拟委托，从创建到成交/拒绝的全过程都记录在同一结构上。
type Order struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Type       OrderType `json:"type"`

	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`

	// 风控元数据：由信号透传，台账本身不会触发（没有止损/止盈监控）。
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`

	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	Commission     decimal.Decimal `json:"commission"`
	Reason         string          `json:"reason,omitempty"`

	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	FilledAt      time.Time `json:"filled_at,omitempty"`
}

// NewOrder 构造一笔待提交的委托。ts 为模拟时钟的当前时刻。
func NewOrder(strategyID, symbol string, side OrderSide, typ OrderType, quantity decimal.Decimal, ts time.Time) *Order {
	return &Order{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Quantity:   quantity,
		Status:     StatusPending,
		CreatedAt:  ts,
	}
}

// IsActive 表示委托已提交但尚未到达终态。
func (o *Order) IsActive() bool {
	return o.Status == StatusSubmitted || o.Status == StatusPartiallyFilled
}

// IsFilled 表示委托已全部成交。
func (o *Order) IsFilled() bool {
	return o.Status == StatusFilled
}

// IsClosed 表示委托处于终态。
func (o *Order) IsClosed() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

func (o *Order) markSubmitted(brokerID string, ts time.Time) {
	if o.IsClosed() {
		return
	}
	o.Status = StatusSubmitted
	o.BrokerOrderID = brokerID
	o.SubmittedAt = ts
}

func (o *Order) markFilled(quantity, price, commission decimal.Decimal, ts time.Time) {
	if o.IsClosed() {
		return
	}
	o.FilledQuantity = quantity
	o.FilledPrice = price
	o.Commission = commission
	o.FilledAt = ts
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

func (o *Order) markCancelled() {
	if o.IsClosed() {
		return
	}
	o.Status = StatusCancelled
}

func (o *Order) markRejected(reason string) {
	if o.IsClosed() {
		return
	}
	o.Status = StatusRejected
	o.Reason = reason
}
