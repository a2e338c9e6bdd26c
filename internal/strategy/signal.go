package strategy

import "github.com/shopspring/decimal"

// Action 表示策略输出的交易动作。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
	// ActionClose 平掉当前 symbol 的全部持仓。与 ActionSell 的区别
	// 仅在语义上：close 表达"退出"，sell 表达"反向委托"，
	// 模拟台账对两者的处理一致。
	ActionClose Action = "close"
)

// Signal 是策略对单根 K 线的决策输出。字段全部可选，
// 引擎只读取与 Action 相关的部分。
type Signal struct {
	Action Action `json:"action"`
	Symbol string `json:"symbol,omitempty"`

	// PositionSize 为开仓动用可用资金的比例，(0,1]。
	// 缺省时引擎按默认比例补齐。
	PositionSize decimal.Decimal `json:"position_size,omitempty"`

	EntryPrice decimal.Decimal `json:"entry_price,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`

	Confidence decimal.Decimal `json:"confidence,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Hold 返回一个表示"本根不动作"的信号。
func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reason: reason}
}

// IsActionable 表示该信号会驱动引擎下单或平仓。
func (s Signal) IsActionable() bool {
	switch s.Action {
	case ActionBuy, ActionSell, ActionClose:
		return true
	}
	return false
}
