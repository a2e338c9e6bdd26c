// Package ledger 实现回测用的模拟执行台账：接收委托、按当前
// mark price 撮合、维护持仓与现金余额。整个状态机只由回放引擎的
// 单一调用路径驱动，不支持并发调用者；并行跑多个回测时每个 run
// 使用独立的 Ledger 实例。
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config 固定一次模拟的资金与费率参数。配置显式传入，
// 不读取任何进程级全局状态。
type Config struct {
	InitialBalance decimal.Decimal
	Currency       string
	CommissionRate decimal.Decimal
	SlippageRate   decimal.Decimal
}

// Balance 是账户资金查询结果：total = 现金 + 浮动盈亏。
// 本模型不做保证金冻结，locked 恒为 0。
type Balance struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// FillEvent 描述一次由 mark price 推进触发的成交（挂单被满足）。
// Closed 非 nil 表示该成交同时完全关闭了一个持仓。
type FillEvent struct {
	Order  *Order
	Closed *Position
}

// Stats 为扫描委托历史得到的汇总，不做增量维护。
type Stats struct {
	TotalOrders     int             `json:"total_orders"`
	FilledOrders    int             `json:"filled_orders"`
	RejectedOrders  int             `json:"rejected_orders"`
	OpenPositions   int             `json:"open_positions"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

// Ledger 维护单次回测的委托、持仓与余额。
type Ledger struct {
	cfg Config

	connected bool
	now       time.Time
	balance   decimal.Decimal

	marks     map[string]decimal.Decimal
	positions map[string]*Position
	history   []*Order
	closed    []*Position
}

var one = decimal.NewFromInt(1)

// New 构造台账。非法费率钳到 0，初始资金非正时由引擎负责降级。
func New(cfg Config) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "USDT"
	}
	if cfg.CommissionRate.IsNegative() {
		cfg.CommissionRate = decimal.Zero
	}
	if cfg.SlippageRate.IsNegative() {
		cfg.SlippageRate = decimal.Zero
	}
	return &Ledger{
		cfg:       cfg,
		balance:   cfg.InitialBalance,
		marks:     make(map[string]decimal.Decimal),
		positions: make(map[string]*Position),
	}
}

// Connect 启用台账。模拟环境下没有真实连接，仅作为生命周期标记。
func (l *Ledger) Connect() {
	l.connected = true
}

// Disconnect 停用台账。
func (l *Ledger) Disconnect() {
	l.connected = false
}

// Reset 恢复到初始状态（余额、持仓、历史全部清空）。
func (l *Ledger) Reset() {
	l.balance = l.cfg.InitialBalance
	l.marks = make(map[string]decimal.Decimal)
	l.positions = make(map[string]*Position)
	l.history = nil
	l.closed = nil
	l.now = time.Time{}
}

// SetMarkPrice 推进模拟时钟并更新 symbol 的标记价格：
// 刷新持仓浮动盈亏，并检查所有挂着的限价单是否被满足。
// 返回本次触发的成交事件（按提交顺序，保证可复现）。
func (l *Ledger) SetMarkPrice(symbol string, price decimal.Decimal, ts time.Time) []FillEvent {
	l.now = ts
	l.marks[symbol] = price
	if pos, ok := l.positions[symbol]; ok {
		pos.updatePrice(price)
	}

	var events []FillEvent
	for _, o := range l.history {
		if !o.IsActive() || o.Type != Limit || o.Symbol != symbol {
			continue
		}
		fillPrice := l.slippedPrice(price, o.Side)
		if !limitSatisfied(o, fillPrice) {
			continue
		}
		closed := l.execute(o, fillPrice, "limit")
		if o.IsFilled() || o.Status == StatusRejected {
			events = append(events, FillEvent{Order: o, Closed: closed})
		}
	}
	return events
}

// MarkPrice 返回 symbol 当前标记价格。
func (l *Ledger) MarkPrice(symbol string) (decimal.Decimal, bool) {
	p, ok := l.marks[symbol]
	return p, ok
}

// PlaceOrder 提交委托。市价单当步全额成交或被拒绝；限价单在
// 价格未满足时保持 submitted 等待后续 mark price。拒绝不是 error，
// 委托会以 rejected 状态留在历史中并携带原因。
// 返回值 closed 非 nil 表示本次成交完全关闭了一个持仓。
func (l *Ledger) PlaceOrder(o *Order) (closed *Position, err error) {
	if o == nil {
		return nil, fmt.Errorf("order 不能为空")
	}
	if !l.connected {
		return nil, fmt.Errorf("ledger 未连接")
	}
	l.history = append(l.history, o)

	if !o.Quantity.IsPositive() {
		o.markRejected("invalid quantity: must be positive")
		return nil, nil
	}
	mark, ok := l.marks[o.Symbol]
	if !ok {
		o.markRejected("no price data for symbol " + o.Symbol)
		return nil, nil
	}
	fillPrice := l.slippedPrice(mark, o.Side)

	if o.Type == Limit && o.LimitPrice.IsPositive() && !limitSatisfied(o, fillPrice) {
		o.markSubmitted(brokerID(), l.now)
		return nil, nil
	}
	return l.execute(o, fillPrice, "order"), nil
}

// CancelOrder 撤销一笔尚未到达终态的委托。
func (l *Ledger) CancelOrder(id string) (*Order, error) {
	o := l.orderByID(id)
	if o == nil {
		return nil, fmt.Errorf("order 不存在: %s", id)
	}
	if o.IsClosed() {
		return nil, fmt.Errorf("order 已处于终态: %s", id)
	}
	o.markCancelled()
	return o, nil
}

// OrderByID 返回指定委托（找不到时返回 nil）。
func (l *Ledger) OrderByID(id string) *Order {
	return l.orderByID(id)
}

func (l *Ledger) orderByID(id string) *Order {
	for _, o := range l.history {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// OpenOrders 返回处于活动状态的委托；symbol 为空表示全部。
func (l *Ledger) OpenOrders(symbol string) []*Order {
	var out []*Order
	for _, o := range l.history {
		if !o.IsActive() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Positions 返回当前持仓快照（值拷贝，调用方修改不影响台账）。
// symbol 为空表示全部持仓。
func (l *Ledger) Positions(symbol string) []Position {
	var out []Position
	if symbol != "" {
		if pos, ok := l.positions[symbol]; ok {
			out = append(out, *pos)
		}
		return out
	}
	// map 遍历无序，这里按持仓开启时间排序保证输出稳定。
	keys := make([]string, 0, len(l.positions))
	for k := range l.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, *l.positions[k])
	}
	return out
}

// ClosedPositions 返回已关闭持仓历史（按关闭顺序）。
func (l *Ledger) ClosedPositions() []Position {
	out := make([]Position, len(l.closed))
	for i, p := range l.closed {
		out[i] = *p
	}
	return out
}

// ClosePosition 以市价反向委托关闭持仓。quantity 为零表示全部平掉；
// 完全平掉后持仓从表中删除。reason 记录到持仓上（如 "signal"、
// "liquidation"）。
func (l *Ledger) ClosePosition(symbol string, quantity decimal.Decimal, reason string) (*Order, *Position, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return nil, nil, fmt.Errorf("symbol %s 没有持仓", symbol)
	}
	closeQty := quantity
	if !closeQty.IsPositive() || closeQty.GreaterThan(pos.Quantity) {
		closeQty = pos.Quantity
	}
	side := Sell
	if pos.Side == Short {
		side = Buy
	}
	o := NewOrder(pos.StrategyID, symbol, side, Market, closeQty, l.now)
	if reason == "" {
		reason = "manual"
	}
	l.history = append(l.history, o)
	mark, ok := l.marks[symbol]
	if !ok {
		o.markRejected("no price data for symbol " + symbol)
		return o, nil, nil
	}
	closed := l.execute(o, l.slippedPrice(mark, o.Side), reason)
	return o, closed, nil
}

// AccountBalance 返回资金状况：总权益 = 现金 + 浮动盈亏。
func (l *Ledger) AccountBalance() Balance {
	unrealized := decimal.Zero
	for _, pos := range l.positions {
		unrealized = unrealized.Add(pos.UnrealizedPnL())
	}
	return Balance{
		Currency:  l.cfg.Currency,
		Total:     l.balance.Add(unrealized),
		Available: l.balance,
		Locked:    decimal.Zero,
	}
}

// AvailableBalance 返回指定币种的可用现金；非记账币种返回 0。
func (l *Ledger) AvailableBalance(currency string) decimal.Decimal {
	if strings.EqualFold(currency, l.cfg.Currency) {
		return l.balance
	}
	return decimal.Zero
}

// Equity 返回总权益，与 AccountBalance().Total 等价。
func (l *Ledger) Equity() decimal.Decimal {
	return l.AccountBalance().Total
}

// Statistics 扫描委托历史生成汇总。历史只增不删，run 长度有限，
// 全量扫描可接受。
func (l *Ledger) Statistics() Stats {
	st := Stats{TotalCommission: decimal.Zero}
	for _, o := range l.history {
		st.TotalOrders++
		switch {
		case o.IsFilled():
			st.FilledOrders++
			st.TotalCommission = st.TotalCommission.Add(o.Commission)
		case o.Status == StatusRejected:
			st.RejectedOrders++
		}
	}
	st.OpenPositions = len(l.positions)
	return st
}

// OrderHistory 返回全部委托历史快照（含 rejected），按提交顺序。
func (l *Ledger) OrderHistory() []Order {
	out := make([]Order, len(l.history))
	for i, o := range l.history {
		out[i] = *o
	}
	return out
}

// ---------------------------------------------------------------------------
// 内部撮合
// ---------------------------------------------------------------------------

// execute 以给定成交价执行委托并更新持仓/余额。
func (l *Ledger) execute(o *Order, fillPrice decimal.Decimal, reason string) (closed *Position) {
	notional := o.Quantity.Mul(fillPrice)
	commission := notional.Mul(l.cfg.CommissionRate)
	pos := l.positions[o.Symbol]

	switch o.Side {
	case Buy:
		if pos != nil && pos.Side == Short {
			// 反向买入视为平空，不在同一步翻转为多头。
			return l.closeFill(pos, o, fillPrice, reason)
		}
		cost := notional.Add(commission)
		if cost.GreaterThan(l.balance) {
			o.markRejected(fmt.Sprintf(
				"insufficient balance: available %s, required %s (shortfall %s)",
				l.balance, cost, cost.Sub(l.balance)))
			return nil
		}
		l.balance = l.balance.Sub(cost)
		o.markSubmitted(brokerID(), l.now)
		o.markFilled(o.Quantity, fillPrice, commission, l.now)
		if pos == nil {
			p := newPosition(o.StrategyID, o.Symbol, Long, fillPrice, o.Quantity, l.now)
			p.StopLoss = o.StopLoss
			p.TakeProfit = o.TakeProfit
			p.EntryCommission = commission
			l.positions[o.Symbol] = p
		} else {
			pos.averageIn(fillPrice, o.Quantity, commission)
		}
		return nil

	case Sell:
		if pos == nil || pos.Side == Short {
			// 无多头可平：做空不在模拟台账范围内，按无操作成交落账。
			o.markSubmitted(brokerID(), l.now)
			o.markFilled(o.Quantity, fillPrice, decimal.Zero, l.now)
			return nil
		}
		return l.closeFill(pos, o, fillPrice, reason)
	}
	return nil
}

// closeFill 用一笔反向成交关闭（或部分关闭）持仓并实现盈亏。
// 多头平仓把净收入（名义 − 手续费）计入余额；已实现盈亏相对
// 建仓时扣掉的成本自然体现，不再二次入账。
func (l *Ledger) closeFill(pos *Position, o *Order, fillPrice decimal.Decimal, reason string) *Position {
	closeQty := o.Quantity
	if closeQty.GreaterThan(pos.Quantity) {
		closeQty = pos.Quantity
	}
	notional := closeQty.Mul(fillPrice)
	commission := notional.Mul(l.cfg.CommissionRate)

	if pos.Side == Long {
		l.balance = l.balance.Add(notional).Sub(commission)
	} else {
		gross := pos.EntryPrice.Sub(fillPrice).Mul(closeQty)
		l.balance = l.balance.Add(gross).Sub(commission)
	}
	o.markSubmitted(brokerID(), l.now)
	o.markFilled(o.Quantity, fillPrice, commission, l.now)

	if closeQty.GreaterThanOrEqual(pos.Quantity) {
		pos.close(fillPrice, commission, reason, l.now)
		delete(l.positions, pos.Symbol)
		l.closed = append(l.closed, pos)
		return pos
	}
	// 部分平仓：入场手续费按量等比摊销，入场价保持不变。
	entryPart := pos.EntryCommission.Mul(closeQty).Div(pos.Quantity)
	pos.EntryCommission = pos.EntryCommission.Sub(entryPart)
	pos.Quantity = pos.Quantity.Sub(closeQty)
	return nil
}

func (l *Ledger) slippedPrice(mark decimal.Decimal, side OrderSide) decimal.Decimal {
	if side == Buy {
		return mark.Mul(one.Add(l.cfg.SlippageRate))
	}
	return mark.Mul(one.Sub(l.cfg.SlippageRate))
}

// limitSatisfied 判断限价条件：买单要求成交价不高于限价，
// 卖单要求不低于限价。
func limitSatisfied(o *Order, fillPrice decimal.Decimal) bool {
	if o.Type != Limit || !o.LimitPrice.IsPositive() {
		return true
	}
	if o.Side == Buy {
		return fillPrice.LessThanOrEqual(o.LimitPrice)
	}
	return fillPrice.GreaterThanOrEqual(o.LimitPrice)
}

func brokerID() string {
	return "SIM_" + uuid.NewString()[:8]
}
