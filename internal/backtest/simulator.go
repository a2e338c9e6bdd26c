package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"vela/internal/engine"
	"vela/internal/logger"
	"vela/internal/strategy"
)

// Notifier 用于运行完成后的推送（Telegram 等），可为 nil。
type Notifier interface {
	SendText(text string) error
}

// SimulatorConfig 配置 Simulator。
type SimulatorConfig struct {
	CandleStore     *Store
	ResultStore     *ResultStore
	Fetcher         *Service
	Registry        *strategy.Registry
	Notifier        Notifier
	DefaultStrategy string
	MaxConcurrent   int

	// 以下为单次请求未指定时的回放缺省值。
	InitialCapital float64
	CommissionRate float64
	SlippageRate   float64
	SnapshotWindow int
}

// Simulator 负责把历史 K 线 + 策略推演为资金曲线：创建 run 记录、
// 后台执行回放、落库结果。并发 run 数量由信号量限制。
type Simulator struct {
	store           *Store
	results         *ResultStore
	fetcher         *Service
	registry        *strategy.Registry
	notifier        Notifier
	defaultStrategy string

	initialCapital float64
	commissionRate float64
	slippageRate   float64
	snapshotWindow int

	sem     *semaphore.Weighted
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("strategy registry 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	defaultStrategy := cfg.DefaultStrategy
	if defaultStrategy == "" {
		defaultStrategy = "sma_crossover"
	}
	return &Simulator{
		store:           cfg.CandleStore,
		results:         cfg.ResultStore,
		fetcher:         cfg.Fetcher,
		registry:        cfg.Registry,
		notifier:        cfg.Notifier,
		defaultStrategy: defaultStrategy,
		initialCapital:  cfg.InitialCapital,
		commissionRate:  cfg.CommissionRate,
		slippageRate:    cfg.SlippageRate,
		snapshotWindow:  cfg.SnapshotWindow,
		sem:             semaphore.NewWeighted(int64(maxConcurrent)),
		baseCtx:         context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于后台 run 取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回放任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = s.defaultStrategy
	}
	// 预构造一次，确保 strategy/profile 存在，失败尽早暴露。
	if _, err := s.buildStrategy(strategyName); err != nil {
		return Run{}, err
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "1h"
	}
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return Run{}, err
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	// 请求未指定的参数依次回落到配置缺省值、硬缺省值。
	initialCapital := req.InitialCapital
	if initialCapital <= 0 {
		initialCapital = s.initialCapital
	}
	if initialCapital <= 0 {
		initialCapital = 10000
	}
	commission := req.CommissionRate
	if commission <= 0 {
		commission = s.commissionRate
	}
	if commission < 0 {
		commission = 0
	}
	slippage := req.SlippageRate
	if slippage <= 0 {
		slippage = s.slippageRate
	}
	if slippage < 0 {
		slippage = 0
	}

	cfg := RunConfig{
		Strategy:       strategyName,
		Symbol:         strings.ToUpper(req.Symbol),
		Timeframe:      tf.Key,
		Exchange:       strings.ToLower(req.Exchange),
		StartTS:        start,
		EndTS:          end,
		InitialCapital: initialCapital,
		CommissionRate: commission,
		SlippageRate:   slippage,
	}
	now := time.Now()
	run := Run{
		ID:             uuid.NewString(),
		Strategy:       strategyName,
		Symbol:         cfg.Symbol,
		Timeframe:      tf.Key,
		Status:         RunStatusPending,
		StartTS:        start,
		EndTS:          end,
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
		Config:         cfg,
		Stats:          RunStats{FinalCapital: initialCapital},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.results.InsertRun(s.ctx(), &run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run, tf)
	return run, nil
}

// GetRun 读取 run 记录。
func (s *Simulator) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.results.GetRun(ctx, id)
}

// ListRuns 列出最近的 run。
func (s *Simulator) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.results.ListRuns(ctx, limit)
}

// Results 返回底层 result store，供 HTTP 层查询明细。
func (s *Simulator) Results() *ResultStore {
	return s.results
}

func (s *Simulator) buildStrategy(name string) (strategy.Strategy, error) {
	if st, err := s.registry.Build(name); err == nil {
		return st, nil
	}
	// 不是已配置的 profile 时按 kind 直接实例化。
	return s.registry.BuildFromProfile(strategy.Profile{Name: name, Kind: name})
}

func (s *Simulator) runLoop(run Run, tf Timeframe) {
	ctx := s.ctx()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.failRun(run, "服务已关闭")
		return
	}
	defer s.sem.Release(1)

	if err := s.execute(ctx, run, tf); err != nil {
		logger.Warnf("[simulator] run %s 失败: %v", run.ID, err)
		s.failRun(run, err.Error())
	}
}

func (s *Simulator) execute(ctx context.Context, run Run, tf Timeframe) error {
	cfg := run.Config
	run.Status = RunStatusRunning
	run.Message = "回放执行中"
	run.UpdatedAt = time.Now()
	if err := s.results.UpdateRun(ctx, &run); err != nil {
		return err
	}

	strat, err := s.buildStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	// 预热段从 start 往前多取 warmup 根，保证策略首根信号可用。
	warmup := strat.WarmupCandles()
	startWarm := cfg.StartTS - int64(warmup+5)*tf.durationMillis()
	if startWarm < 0 {
		startWarm = 0
	}
	if err := s.ensureDataset(ctx, cfg, startWarm); err != nil {
		return err
	}
	candles, err := s.store.RangeCandles(ctx, cfg.Symbol, cfg.Timeframe, startWarm, cfg.EndTS)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, engine.Config{
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		InitialCapital: decimal.NewFromFloat(cfg.InitialCapital),
		CommissionRate: decimal.NewFromFloat(cfg.CommissionRate),
		SlippageRate:   decimal.NewFromFloat(cfg.SlippageRate),
		SnapshotWindow: s.snapshotWindow,
	}, strat, candles)
	if err != nil {
		return err
	}
	return s.persistResult(ctx, run, result)
}

// ensureDataset 在本地数据有缺口时同步拉取补齐。没有配置 fetcher
// 时直接使用本地已有数据。
func (s *Simulator) ensureDataset(ctx context.Context, cfg RunConfig, start int64) error {
	if s.fetcher == nil {
		return nil
	}
	job, err := s.fetcher.SubmitFetch(FetchParams{
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Exchange:  cfg.Exchange,
		Start:     start,
		End:       cfg.EndTS,
	})
	if err != nil {
		return fmt.Errorf("提交数据拉取失败: %w", err)
	}
	for {
		snap, ok := s.fetcher.JobSnapshot(job.ID)
		if !ok {
			return fmt.Errorf("拉取任务 %s 丢失", job.ID)
		}
		switch snap.Status {
		case JobStatusDone:
			return nil
		case JobStatusPartial:
			logger.Warnf("[simulator] 数据仍有缺口，按已有数据回放: %s %s", cfg.Symbol, cfg.Timeframe)
			return nil
		case JobStatusFailed:
			return fmt.Errorf("数据拉取失败: %s", snap.Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Simulator) persistResult(ctx context.Context, run Run, result *engine.Result) error {
	now := time.Now()
	run.Status = RunStatusDone
	run.Message = "回放完成"
	run.FinalCapital = result.FinalCapital.InexactFloat64()
	run.Profit = result.TotalReturn.InexactFloat64()
	run.ReturnPct = result.TotalReturnPct.InexactFloat64()
	run.WinRate = result.WinRate.InexactFloat64()
	run.MaxDrawdownPct = result.MaxDrawdownPct.InexactFloat64()
	run.Trades = result.TotalTrades
	run.Orders = result.TotalOrders
	run.UpdatedAt = now
	run.CompletedAt = now
	run.Stats = RunStats{
		FinalCapital:    run.FinalCapital,
		Profit:          run.Profit,
		ReturnPct:       run.ReturnPct,
		WinRate:         run.WinRate,
		MaxDrawdown:     result.MaxDrawdown.InexactFloat64(),
		MaxDrawdownPct:  run.MaxDrawdownPct,
		Orders:          result.TotalOrders,
		FilledOrders:    result.FilledOrders,
		RejectedOrders:  result.RejectedOrders,
		Trades:          result.TotalTrades,
		Wins:            result.WinningTrades,
		Losses:          result.LosingTrades,
		TotalCommission: result.TotalCommission.InexactFloat64(),
		EquityPoints:    len(result.EquityCurve),
		FinishedAt:      now,
	}

	trades := make([]TradeRecord, len(result.Trades))
	for i, t := range result.Trades {
		trades[i] = TradeRecord{
			RunID:      run.ID,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Quantity:   t.Quantity.InexactFloat64(),
			EntryPrice: t.EntryPrice.InexactFloat64(),
			ExitPrice:  t.ExitPrice.InexactFloat64(),
			PnL:        t.PnL.InexactFloat64(),
			Commission: t.Commission.InexactFloat64(),
			ExitReason: t.ExitReason,
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		}
	}
	equity := make([]EquityRecord, len(result.EquityCurve))
	for i, p := range result.EquityCurve {
		equity[i] = EquityRecord{
			RunID:  run.ID,
			TS:     p.Timestamp.UnixMilli(),
			Equity: p.Equity.InexactFloat64(),
			Price:  p.Price.InexactFloat64(),
		}
	}
	signals := make([]SignalRecord, len(result.Signals))
	for i, sig := range result.Signals {
		signals[i] = SignalRecord{
			RunID:  run.ID,
			TS:     sig.Timestamp.UnixMilli(),
			Action: string(sig.Action),
			Price:  sig.Price.InexactFloat64(),
			Reason: sig.Reason,
		}
	}

	if err := s.results.InsertTrades(ctx, run.ID, trades); err != nil {
		return err
	}
	if err := s.results.InsertEquity(ctx, run.ID, equity); err != nil {
		return err
	}
	if err := s.results.InsertSignals(ctx, run.ID, signals); err != nil {
		return err
	}
	if err := s.results.UpdateRun(ctx, &run); err != nil {
		return err
	}
	s.notify(run)
	return nil
}

func (s *Simulator) failRun(run Run, message string) {
	run.Status = RunStatusFailed
	run.Message = message
	run.UpdatedAt = time.Now()
	if err := s.results.UpdateRun(s.ctx(), &run); err != nil {
		logger.Errorf("[simulator] 更新失败状态出错 %s: %v", run.ID, err)
	}
}

func (s *Simulator) notify(run Run) {
	if s.notifier == nil {
		return
	}
	text := fmt.Sprintf("回测完成 %s %s@%s\n收益率 %.2f%% 交易 %d 笔 胜率 %.1f%%",
		run.Strategy, run.Symbol, run.Timeframe, run.ReturnPct, run.Trades, run.WinRate)
	if err := s.notifier.SendText(text); err != nil {
		logger.Warnf("[simulator] 推送失败: %v", err)
	}
}
