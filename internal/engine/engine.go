// Package engine 实现市场回放：把一段历史 K 线按时间顺序喂给
// 策略，并通过模拟台账执行策略信号，产出可复现的回测结果。
// 同一份输入（K 线、策略、配置）必然产出逐位相同的结果。
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"vela/internal/indicator"
	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/market"
	"vela/internal/strategy"
)

// 缺省参数。
var (
	defaultPositionSize = decimal.RequireFromString("0.1")
)

const defaultSnapshotWindow = 100

// Config 描述一次回放的全部输入参数。
type Config struct {
	Symbol    string
	Timeframe string

	InitialCapital decimal.Decimal
	CommissionRate decimal.Decimal
	SlippageRate   decimal.Decimal
	Currency       string

	// SnapshotWindow 限制快照携带的历史 K 线根数，缺省 100。
	SnapshotWindow int
}

// EquityPoint 是权益曲线上的一个采样点。
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Price     decimal.Decimal `json:"price"`
}

// Trade 是一笔已关闭持仓的成交记录。
type Trade struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnL        decimal.Decimal `json:"pnl"`
	Commission decimal.Decimal `json:"commission"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
	ExitReason string          `json:"exit_reason"`
}

// SignalRecord 记录策略对每根 K 线给出的决策，包括 hold。
type SignalRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Action    strategy.Action `json:"action"`
	Price     decimal.Decimal `json:"price"`
	Reason    string          `json:"reason,omitempty"`
}

// Result 汇总一次回放的产出。
type Result struct {
	StrategyName string    `json:"strategy_name"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalCapital   decimal.Decimal `json:"final_capital"`
	TotalReturn    decimal.Decimal `json:"total_return"`
	TotalReturnPct decimal.Decimal `json:"total_return_pct"`

	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`

	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`

	TotalOrders     int             `json:"total_orders"`
	FilledOrders    int             `json:"filled_orders"`
	RejectedOrders  int             `json:"rejected_orders"`
	TotalCommission decimal.Decimal `json:"total_commission"`

	EquityCurve []EquityPoint  `json:"equity_curve"`
	Trades      []Trade        `json:"trades"`
	Signals     []SignalRecord `json:"signals"`
}

// Run 回放一段 K 线。降级规则：K 线为空、初始资金非正、或预热
// 长度吃掉全部历史时，返回零活动结果而不是报错；策略自身返回的
// error 会中止回放并上抛。
func Run(ctx context.Context, cfg Config, strat strategy.Strategy, candles market.Candles) (*Result, error) {
	if strat == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if cfg.SnapshotWindow <= 0 {
		cfg.SnapshotWindow = defaultSnapshotWindow
	}
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}

	result := &Result{
		StrategyName:   strat.Name(),
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   cfg.InitialCapital,
		TotalReturn:    decimal.Zero,
		TotalReturnPct: decimal.Zero,
		WinRate:        decimal.Zero,
		MaxDrawdown:    decimal.Zero,
		MaxDrawdownPct: decimal.Zero,
	}
	if len(candles) > 0 {
		result.Start = candles[0].Timestamp()
		result.End = candles[len(candles)-1].Timestamp()
	}

	warmup := strat.WarmupCandles()
	if len(candles) == 0 || !cfg.InitialCapital.IsPositive() || warmup >= len(candles) {
		logger.Warnf("回放降级为零活动: candles=%d capital=%s warmup=%d",
			len(candles), cfg.InitialCapital, warmup)
		return result, nil
	}

	led := ledger.New(ledger.Config{
		InitialBalance: cfg.InitialCapital,
		Currency:       cfg.Currency,
		CommissionRate: cfg.CommissionRate,
		SlippageRate:   cfg.SlippageRate,
	})
	led.Connect()
	defer led.Disconnect()

	if err := strat.Initialize(); err != nil {
		return nil, fmt.Errorf("strategy initialize failed: %w", err)
	}
	defer func() {
		if err := strat.Cleanup(); err != nil {
			logger.Warnf("strategy cleanup failed: %v", err)
		}
	}()

	specs := strat.RequiredIndicators()
	closes := candles.Closes()
	peak := cfg.InitialCapital

	for i, c := range candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// 无价格的 K 线不能参与定价，跳过但保留回放进度。
		if !c.HasPrice() {
			logger.Warnf("跳过无价格 K 线 %s@%s", cfg.Symbol, c.Timestamp())
			continue
		}

		// 标记价格推进：刷新浮动盈亏并触发挂着的限价单。
		events := led.SetMarkPrice(cfg.Symbol, c.Close, c.Timestamp())
		dispatchFills(strat, events)

		// 预热期只累积历史。
		if i < warmup {
			continue
		}

		values := indicator.Compute(specs, closes[:i+1])
		snap := buildSnapshot(cfg, led, candles, i, values)

		sig, err := strat.OnCandle(snap)
		if err != nil {
			return nil, fmt.Errorf("strategy %s on candle %s: %w", strat.Name(), c.Timestamp(), err)
		}
		result.Signals = append(result.Signals, SignalRecord{
			Timestamp: c.Timestamp(),
			Action:    sig.Action,
			Price:     c.Close,
			Reason:    sig.Reason,
		})
		if sig.IsActionable() {
			if err := applySignal(led, strat, cfg, sig, c); err != nil {
				return nil, err
			}
		}

		equity := led.Equity()
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := peak.Sub(equity)
		if drawdown.GreaterThan(result.MaxDrawdown) {
			result.MaxDrawdown = drawdown
			if peak.IsPositive() {
				result.MaxDrawdownPct = drawdown.Div(peak).Mul(decimal.NewFromInt(100))
			}
		}
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: c.Timestamp(),
			Equity:    equity,
			Price:     c.Close,
		})
	}

	// 收盘强制平仓：按最后一根的标记价格把所有持仓变现。
	for _, pos := range led.Positions("") {
		order, closed, err := led.ClosePosition(pos.Symbol, decimal.Zero, "end_of_backtest")
		if err != nil {
			logger.Errorf("强制平仓失败 %s: %v", pos.Symbol, err)
			continue
		}
		if order.IsFilled() {
			strat.OnOrderFilled(order)
		}
		if closed != nil {
			strat.OnPositionClosed(closed)
		}
	}

	finalize(result, led, cfg.InitialCapital, cfg.Currency)
	logger.Infof("回放完成 %s %s@%s: trades=%d return=%s%%",
		strat.Name(), cfg.Symbol, cfg.Timeframe, result.TotalTrades, result.TotalReturnPct)
	return result, nil
}

// buildSnapshot 组装交给策略的只读上下文。
func buildSnapshot(cfg Config, led *ledger.Ledger, candles market.Candles, i int, values map[string]decimal.Decimal) *strategy.Snapshot {
	// 拷贝窗口，策略改写快照不会污染回放序列。
	window := append(market.Candles(nil), candles[:i+1].Tail(cfg.SnapshotWindow)...)
	balance := led.AccountBalance()
	return &strategy.Snapshot{
		Symbol:       cfg.Symbol,
		Timeframe:    cfg.Timeframe,
		Timestamp:    candles[i].Timestamp(),
		Candles:      window,
		CurrentPrice: candles[i].Close,
		Indicators:   values,
		Account: strategy.AccountState{
			Balance:  balance.Available,
			Equity:   balance.Total,
			Currency: balance.Currency,
		},
		Positions:    led.Positions(cfg.Symbol),
		AllPositions: led.Positions(""),
	}
}

// applySignal 把策略信号翻译成台账操作并派发回调。
func applySignal(led *ledger.Ledger, strat strategy.Strategy, cfg Config, sig strategy.Signal, c market.Candle) error {
	switch sig.Action {
	case strategy.ActionBuy:
		size := sig.PositionSize
		if !size.IsPositive() || size.GreaterThan(decimal.NewFromInt(1)) {
			size = defaultPositionSize
		}
		available := led.AvailableBalance(cfg.Currency)
		budget := available.Mul(size)
		if !budget.IsPositive() || !c.Close.IsPositive() {
			return nil
		}
		quantity := budget.Div(c.Close)
		order := ledger.NewOrder(strat.Name(), cfg.Symbol, ledger.Buy, ledger.Market, quantity, c.Timestamp())
		order.StopLoss = sig.StopLoss
		order.TakeProfit = sig.TakeProfit
		closed, err := led.PlaceOrder(order)
		if err != nil {
			return fmt.Errorf("place order: %w", err)
		}
		dispatchOrder(strat, order, closed)

	case strategy.ActionSell, strategy.ActionClose:
		// 无持仓时的 sell/close 只留在信号记录里，不产生委托。
		if len(led.Positions(cfg.Symbol)) == 0 {
			return nil
		}
		order, closed, err := led.ClosePosition(cfg.Symbol, decimal.Zero, "signal")
		if err != nil {
			return fmt.Errorf("close position: %w", err)
		}
		dispatchOrder(strat, order, closed)
	}
	return nil
}

func dispatchOrder(strat strategy.Strategy, order *ledger.Order, closed *ledger.Position) {
	switch {
	case order == nil:
	case order.IsFilled():
		strat.OnOrderFilled(order)
	case order.Status == ledger.StatusRejected:
		strat.OnOrderRejected(order)
	}
	if closed != nil {
		strat.OnPositionClosed(closed)
	}
}

func dispatchFills(strat strategy.Strategy, events []ledger.FillEvent) {
	for _, ev := range events {
		dispatchOrder(strat, ev.Order, ev.Closed)
	}
}

// finalize 从台账提取最终统计。胜负按已实现盈亏非负判定。
func finalize(result *Result, led *ledger.Ledger, initial decimal.Decimal, currency string) {
	result.FinalCapital = led.AvailableBalance(currency)
	result.TotalReturn = result.FinalCapital.Sub(initial)
	if initial.IsPositive() {
		result.TotalReturnPct = result.TotalReturn.Div(initial).Mul(decimal.NewFromInt(100))
	}

	for _, pos := range led.ClosedPositions() {
		pnl, ok := pos.RealizedPnL()
		if !ok {
			continue
		}
		result.TotalTrades++
		if pnl.IsNegative() {
			result.LosingTrades++
		} else {
			result.WinningTrades++
		}
		result.Trades = append(result.Trades, Trade{
			Symbol:     pos.Symbol,
			Side:       string(pos.Side),
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  pos.ExitPrice,
			PnL:        pnl,
			Commission: pos.EntryCommission.Add(pos.ExitCommission),
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   pos.ClosedAt,
			ExitReason: pos.ExitReason,
		})
	}
	if result.TotalTrades > 0 {
		result.WinRate = decimal.NewFromInt(int64(result.WinningTrades)).
			Div(decimal.NewFromInt(int64(result.TotalTrades))).
			Mul(decimal.NewFromInt(100))
	}

	st := led.Statistics()
	result.TotalOrders = st.TotalOrders
	result.FilledOrders = st.FilledOrders
	result.RejectedOrders = st.RejectedOrders
	result.TotalCommission = st.TotalCommission
}
