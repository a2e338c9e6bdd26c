// Package strategy 定义回放引擎与交易策略之间的契约：
// 策略声明自己需要的指标与预热长度，引擎逐根 K 线喂快照，
// 策略返回信号。策略实现必须是确定性的——同样的快照序列
// 必须产生同样的信号序列，回测结果才可复现。
package strategy

import (
	"vela/internal/indicator"
	"vela/internal/ledger"
)

// Strategy 是所有策略的统一接口。
type Strategy interface {
	// Name 返回策略标识，用于落库与日志。
	Name() string

	// WarmupCandles 返回策略形成首个有效信号所需的最少历史根数。
	// 引擎在预热期内只累积历史，不调用 OnCandle。
	WarmupCandles() int

	// RequiredIndicators 声明需要引擎逐根重算的指标。
	RequiredIndicators() []indicator.Spec

	// OnCandle 处理一根收盘 K 线。返回 error 表示策略内部故障，
	// 引擎会中止整个回放并把错误上抛。
	OnCandle(snapshot *Snapshot) (Signal, error)

	// Initialize 在回放开始前调用一次。
	Initialize() error

	// Cleanup 在回放结束后调用一次（包括出错中止的情况）。
	Cleanup() error

	// 执行回调：引擎在对应事件发生后同步调用，策略可借此
	// 维护内部状态。默认实现为空操作。
	OnOrderFilled(order *ledger.Order)
	OnOrderRejected(order *ledger.Order)
	OnPositionClosed(position *ledger.Position)
}

// BaseStrategy 提供全部回调的空实现，策略通过内嵌它
// 只覆盖自己关心的方法。
type BaseStrategy struct{}

func (BaseStrategy) Initialize() error { return nil }

func (BaseStrategy) Cleanup() error { return nil }

func (BaseStrategy) OnOrderFilled(*ledger.Order) {}

func (BaseStrategy) OnOrderRejected(*ledger.Order) {}

func (BaseStrategy) OnPositionClosed(*ledger.Position) {}
