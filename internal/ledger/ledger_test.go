package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(balance string, commission, slippage string) *Ledger {
	l := New(Config{
		InitialBalance: decimal.RequireFromString(balance),
		Currency:       "USDT",
		CommissionRate: decimal.RequireFromString(commission),
		SlippageRate:   decimal.RequireFromString(slippage),
	})
	l.Connect()
	return l
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ts(step int) time.Time {
	return time.UnixMilli(int64(1700000000000 + step*60000)).UTC()
}

func TestMarketBuyFill(t *testing.T) {
	l := newTestLedger("10000", "0.001", "0.001")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(0))
	closed, err := l.PlaceOrder(o)
	require.NoError(t, err)
	require.Nil(t, closed)
	require.Equal(t, StatusFilled, o.Status)

	// 成交价含滑点：100 × 1.001
	assert.True(t, o.FilledPrice.Equal(d("100.1")), "filled price %s", o.FilledPrice)
	// 手续费 = 名义 × 费率 = 1001 × 0.001
	assert.True(t, o.Commission.Equal(d("1.001")), "commission %s", o.Commission)
	// 余额扣掉成本 + 手续费
	assert.True(t, l.AvailableBalance("USDT").Equal(d("8997.999")), "balance %s", l.AvailableBalance("USDT"))

	positions := l.Positions("BTCUSDT")
	require.Len(t, positions, 1)
	assert.Equal(t, Long, positions[0].Side)
	assert.True(t, positions[0].Quantity.Equal(d("10")))
	assert.True(t, positions[0].EntryPrice.Equal(d("100.1")))
}

func TestBuyInsufficientBalanceRejected(t *testing.T) {
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("40000"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Market, d("1"), ts(0))
	closed, err := l.PlaceOrder(o)
	require.NoError(t, err)
	require.Nil(t, closed)

	assert.Equal(t, StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient balance")
	// 拒绝不能动余额
	assert.True(t, l.AvailableBalance("USDT").Equal(d("10000")))
	assert.Empty(t, l.Positions(""))

	st := l.Statistics()
	assert.Equal(t, 1, st.TotalOrders)
	assert.Equal(t, 1, st.RejectedOrders)
	assert.Equal(t, 0, st.FilledOrders)
}

func TestBuyWithoutMarkPriceRejected(t *testing.T) {
	l := newTestLedger("10000", "0", "0")

	o := NewOrder("s1", "ETHUSDT", Buy, Market, d("1"), ts(0))
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "no price data")
}

func TestCloseRealizesPnL(t *testing.T) {
	// 无手续费无滑点：10000 → 买 0.1@40000 → 42000 平仓 → 10200，
	// 最终余额必须与初始资金 + 已实现盈亏逐位相等。
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("40000"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Market, d("0.1"), ts(0))
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)
	require.True(t, o.IsFilled())
	require.True(t, l.AvailableBalance("USDT").Equal(d("6000")))

	l.SetMarkPrice("BTCUSDT", d("42000"), ts(1))
	closeOrder, closed, err := l.ClosePosition("BTCUSDT", decimal.Zero, "signal")
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.True(t, closeOrder.IsFilled())

	pnl, ok := closed.RealizedPnL()
	require.True(t, ok)
	assert.True(t, pnl.Equal(d("200")), "pnl %s", pnl)
	assert.True(t, l.AvailableBalance("USDT").Equal(d("10200")), "balance %s", l.AvailableBalance("USDT"))
	assert.Empty(t, l.Positions("BTCUSDT"))
	assert.Equal(t, "signal", closed.ExitReason)
}

func TestCloseDeductsCommissionFromProceeds(t *testing.T) {
	l := newTestLedger("10000", "0.001", "0")
	l.SetMarkPrice("BTCUSDT", d("1000"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Market, d("1"), ts(0))
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)
	// 成本 1000 + 手续费 1
	require.True(t, l.AvailableBalance("USDT").Equal(d("8999")))

	l.SetMarkPrice("BTCUSDT", d("1100"), ts(1))
	_, closed, err := l.ClosePosition("BTCUSDT", decimal.Zero, "signal")
	require.NoError(t, err)
	require.NotNil(t, closed)

	// 入账 = 1100 − 出场手续费 1.1
	assert.True(t, l.AvailableBalance("USDT").Equal(d("10097.9")), "balance %s", l.AvailableBalance("USDT"))
	pnl, _ := closed.RealizedPnL()
	// (1100 − 1000) − 1 − 1.1
	assert.True(t, pnl.Equal(d("97.9")), "pnl %s", pnl)
}

func TestAverageInRecomputesEntry(t *testing.T) {
	l := newTestLedger("100000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))
	_, err := l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(0)))
	require.NoError(t, err)

	l.SetMarkPrice("BTCUSDT", d("200"), ts(1))
	_, err = l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(1)))
	require.NoError(t, err)

	positions := l.Positions("BTCUSDT")
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(d("20")))
	// (100×10 + 200×10) / 20
	assert.True(t, positions[0].EntryPrice.Equal(d("150")), "entry %s", positions[0].EntryPrice)
}

func TestSellWithoutPositionIsNoop(t *testing.T) {
	l := newTestLedger("10000", "0.001", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Sell, Market, d("5"), ts(0))
	closed, err := l.PlaceOrder(o)
	require.NoError(t, err)
	require.Nil(t, closed)

	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.Commission.IsZero())
	assert.True(t, l.AvailableBalance("USDT").Equal(d("10000")))
	assert.Empty(t, l.Positions(""))
}

func TestLimitOrderRestsUntilTriggered(t *testing.T) {
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Limit, d("10"), ts(0))
	o.LimitPrice = d("95")
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, o.Status)
	require.Len(t, l.OpenOrders("BTCUSDT"), 1)

	// 价格未到限价，不触发
	events := l.SetMarkPrice("BTCUSDT", d("98"), ts(1))
	assert.Empty(t, events)
	assert.Equal(t, StatusSubmitted, o.Status)

	// 到价：按触发时刻的 mark 成交
	events = l.SetMarkPrice("BTCUSDT", d("94"), ts(2))
	require.Len(t, events, 1)
	assert.Equal(t, o.ID, events[0].Order.ID)
	assert.True(t, o.IsFilled())
	assert.True(t, o.FilledPrice.Equal(d("94")), "filled price %s", o.FilledPrice)
	assert.True(t, l.AvailableBalance("USDT").Equal(d("9060")))
	assert.Empty(t, l.OpenOrders(""))
}

func TestLimitOrderInsufficientBalanceAtTrigger(t *testing.T) {
	l := newTestLedger("500", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Limit, d("10"), ts(0))
	o.LimitPrice = d("90")
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, o.Status)

	events := l.SetMarkPrice("BTCUSDT", d("89"), ts(1))
	require.Len(t, events, 1)
	assert.Equal(t, StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient balance")
	assert.True(t, l.AvailableBalance("USDT").Equal(d("500")))
}

func TestCancelOrder(t *testing.T) {
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	o := NewOrder("s1", "BTCUSDT", Buy, Limit, d("1"), ts(0))
	o.LimitPrice = d("50")
	_, err := l.PlaceOrder(o)
	require.NoError(t, err)

	got, err := l.CancelOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// 终态不可再撤
	_, err = l.CancelOrder(o.ID)
	assert.Error(t, err)

	// 已撤销的限价单不会再被触发
	events := l.SetMarkPrice("BTCUSDT", d("40"), ts(1))
	assert.Empty(t, events)
}

func TestPartialCloseKeepsPosition(t *testing.T) {
	l := newTestLedger("10000", "0.001", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))
	_, err := l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(0)))
	require.NoError(t, err)

	l.SetMarkPrice("BTCUSDT", d("110"), ts(1))
	_, closed, err := l.ClosePosition("BTCUSDT", d("4"), "signal")
	require.NoError(t, err)
	assert.Nil(t, closed, "部分平仓不应删除持仓")

	positions := l.Positions("BTCUSDT")
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(d("6")))
	// 入场手续费按量摊销：1 × 6/10
	assert.True(t, positions[0].EntryCommission.Equal(d("0.6")), "entry commission %s", positions[0].EntryCommission)
}

func TestEquityEqualsCashPlusUnrealized(t *testing.T) {
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))
	_, err := l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(0)))
	require.NoError(t, err)

	l.SetMarkPrice("BTCUSDT", d("120"), ts(1))
	b := l.AccountBalance()
	assert.Equal(t, "USDT", b.Currency)
	// 现金 9000 + 浮盈 200
	assert.True(t, b.Available.Equal(d("9000")))
	assert.True(t, b.Total.Equal(d("9200")), "total %s", b.Total)
	assert.True(t, b.Locked.IsZero())
}

func TestStatisticsScansHistory(t *testing.T) {
	l := newTestLedger("10000", "0.001", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))

	_, err := l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10"), ts(0)))
	require.NoError(t, err)
	_, err = l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("10000"), ts(0)))
	require.NoError(t, err)

	st := l.Statistics()
	assert.Equal(t, 2, st.TotalOrders)
	assert.Equal(t, 1, st.FilledOrders)
	assert.Equal(t, 1, st.RejectedOrders)
	assert.Equal(t, 1, st.OpenPositions)
	assert.True(t, st.TotalCommission.Equal(d("1")), "commission %s", st.TotalCommission)
}

func TestResetRestoresInitialState(t *testing.T) {
	l := newTestLedger("10000", "0", "0")
	l.SetMarkPrice("BTCUSDT", d("100"), ts(0))
	_, err := l.PlaceOrder(NewOrder("s1", "BTCUSDT", Buy, Market, d("1"), ts(0)))
	require.NoError(t, err)

	l.Reset()
	assert.True(t, l.AvailableBalance("USDT").Equal(d("10000")))
	assert.Empty(t, l.Positions(""))
	assert.Empty(t, l.OrderHistory())
	_, ok := l.MarkPrice("BTCUSDT")
	assert.False(t, ok)
}
