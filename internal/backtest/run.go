package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig 记录本次回放的参数快照，便于重放。
type RunConfig struct {
	Strategy       string  `json:"strategy"`
	Profile        string  `json:"profile,omitempty"`
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	Exchange       string  `json:"exchange,omitempty"`
	StartTS        int64   `json:"start_ts"`
	EndTS          int64   `json:"end_ts"`
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
	Notes          string  `json:"notes,omitempty"`
}

// RunStats 汇总收益与风控指标，供前端展示。
type RunStats struct {
	FinalCapital    float64   `json:"final_capital"`
	Profit          float64   `json:"profit"`
	ReturnPct       float64   `json:"return_pct"`
	WinRate         float64   `json:"win_rate"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Orders          int       `json:"orders"`
	FilledOrders    int       `json:"filled_orders"`
	RejectedOrders  int       `json:"rejected_orders"`
	Trades          int       `json:"trades"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	TotalCommission float64   `json:"total_commission"`
	EquityPoints    int       `json:"equity_points"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Run 表示一次回放任务。
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Orders         int       `json:"orders"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// TradeRecord 记录一笔已关闭持仓。
type TradeRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	ExitReason string    `json:"exit_reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// EquityRecord 保存资金曲线采样点。
type EquityRecord struct {
	ID     int64   `json:"id"`
	RunID  string  `json:"run_id"`
	TS     int64   `json:"ts"`
	Equity float64 `json:"equity"`
	Price  float64 `json:"price"`
}

// SignalRecord 保存策略对每根 K 线的决策记录，包括 hold。
type SignalRecord struct {
	ID     int64   `json:"id"`
	RunID  string  `json:"run_id"`
	TS     int64   `json:"ts"`
	Action string  `json:"action"`
	Price  float64 `json:"price"`
	Reason string  `json:"reason,omitempty"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Strategy       string  `json:"strategy"`
	Symbol         string  `json:"symbol" binding:"required"`
	Timeframe      string  `json:"timeframe"`
	Exchange       string  `json:"exchange"`
	StartTS        int64   `json:"start_ts" binding:"required"`
	EndTS          int64   `json:"end_ts" binding:"required"`
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
}
