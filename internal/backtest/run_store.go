package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// runModel 对应 backtest_runs 表。
type runModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Strategy       string `gorm:"size:64;index"`
	Symbol         string `gorm:"size:32;index"`
	Timeframe      string `gorm:"size:16"`
	Status         string `gorm:"size:16;index"`
	StartTS        int64
	EndTS          int64
	InitialCapital float64
	FinalCapital   float64
	Profit         float64
	ReturnPct      float64
	WinRate        float64
	MaxDrawdownPct float64
	Trades         int
	Orders         int
	Message        string
	Config         datatypes.JSON
	Stats          datatypes.JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (runModel) TableName() string { return "backtest_runs" }

// tradeModel 对应 backtest_trades 表。
type tradeModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"size:64;index"`
	Symbol     string `gorm:"size:32"`
	Side       string `gorm:"size:8"`
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Commission float64
	ExitReason string `gorm:"size:32"`
	OpenedAt   time.Time
	ClosedAt   time.Time
}

func (tradeModel) TableName() string { return "backtest_trades" }

// equityModel 对应 backtest_equity 表。
type equityModel struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"size:64;index"`
	TS     int64  `gorm:"index"`
	Equity float64
	Price  float64
}

func (equityModel) TableName() string { return "backtest_equity" }

// signalModel 对应 backtest_signals 表。
type signalModel struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	RunID  string `gorm:"size:64;index"`
	TS     int64
	Action string `gorm:"size:8"`
	Price  float64
	Reason string `gorm:"size:64"`
}

func (signalModel) TableName() string { return "backtest_signals" }

// ResultStore 基于 Gorm + SQLite 保存回放结果。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &equityModel{}, &signalModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允许少量并行读，降低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run 记录不完整")
	}
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

// UpdateRun 覆盖写入 run 状态与统计。
func (s *ResultStore) UpdateRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run 记录不完整")
	}
	model, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&runModel{}).
		Where("id = ?", run.ID).
		Updates(model).Error
}

// GetRun 按 ID 读取 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var model runModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run 不存在: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return modelToRun(&model)
}

// ListRuns 按创建时间倒序列出 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for i := range models {
		run, err := modelToRun(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, nil
}

// InsertTrades 批量写入成交记录。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]tradeModel, len(trades))
	for i, t := range trades {
		models[i] = tradeModel{
			RunID:      runID,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			Commission: t.Commission,
			ExitReason: t.ExitReason,
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// ListTrades 按平仓时间升序返回 run 的全部成交。
func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("closed_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]TradeRecord, len(models))
	for i, m := range models {
		out[i] = TradeRecord{
			ID: m.ID, RunID: m.RunID, Symbol: m.Symbol, Side: m.Side,
			Quantity: m.Quantity, EntryPrice: m.EntryPrice, ExitPrice: m.ExitPrice,
			PnL: m.PnL, Commission: m.Commission, ExitReason: m.ExitReason,
			OpenedAt: m.OpenedAt, ClosedAt: m.ClosedAt,
		}
	}
	return out, nil
}

// InsertEquity 批量写入资金曲线。
func (s *ResultStore) InsertEquity(ctx context.Context, runID string, points []EquityRecord) error {
	if len(points) == 0 {
		return nil
	}
	models := make([]equityModel, len(points))
	for i, p := range points {
		models[i] = equityModel{RunID: runID, TS: p.TS, Equity: p.Equity, Price: p.Price}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// ListEquity 按时间升序返回 run 的资金曲线。
func (s *ResultStore) ListEquity(ctx context.Context, runID string) ([]EquityRecord, error) {
	var models []equityModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]EquityRecord, len(models))
	for i, m := range models {
		out[i] = EquityRecord{ID: m.ID, RunID: m.RunID, TS: m.TS, Equity: m.Equity, Price: m.Price}
	}
	return out, nil
}

// InsertSignals 批量写入信号记录。
func (s *ResultStore) InsertSignals(ctx context.Context, runID string, signals []SignalRecord) error {
	if len(signals) == 0 {
		return nil
	}
	models := make([]signalModel, len(signals))
	for i, sig := range signals {
		models[i] = signalModel{RunID: runID, TS: sig.TS, Action: sig.Action, Price: sig.Price, Reason: sig.Reason}
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// ListSignals 按时间升序返回 run 的信号。
func (s *ResultStore) ListSignals(ctx context.Context, runID string) ([]SignalRecord, error) {
	var models []signalModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SignalRecord, len(models))
	for i, m := range models {
		out[i] = SignalRecord{ID: m.ID, RunID: m.RunID, TS: m.TS, Action: m.Action, Price: m.Price, Reason: m.Reason}
	}
	return out, nil
}

func runToModel(run *Run) (*runModel, error) {
	cfg, err := run.MarshalConfig()
	if err != nil {
		return nil, err
	}
	stats, err := run.MarshalStats()
	if err != nil {
		return nil, err
	}
	model := &runModel{
		ID:             run.ID,
		Strategy:       run.Strategy,
		Symbol:         run.Symbol,
		Timeframe:      run.Timeframe,
		Status:         run.Status,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialCapital: run.InitialCapital,
		FinalCapital:   run.FinalCapital,
		Profit:         run.Profit,
		ReturnPct:      run.ReturnPct,
		WinRate:        run.WinRate,
		MaxDrawdownPct: run.MaxDrawdownPct,
		Trades:         run.Trades,
		Orders:         run.Orders,
		Message:        run.Message,
		Config:         datatypes.JSON(cfg),
		Stats:          datatypes.JSON(stats),
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
	if !run.CompletedAt.IsZero() {
		t := run.CompletedAt
		model.CompletedAt = &t
	}
	return model, nil
}

func modelToRun(m *runModel) (*Run, error) {
	run := &Run{
		ID:             m.ID,
		Strategy:       m.Strategy,
		Symbol:         m.Symbol,
		Timeframe:      m.Timeframe,
		Status:         m.Status,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialCapital: m.InitialCapital,
		FinalCapital:   m.FinalCapital,
		Profit:         m.Profit,
		ReturnPct:      m.ReturnPct,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdownPct,
		Trades:         m.Trades,
		Orders:         m.Orders,
		Message:        m.Message,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.CompletedAt != nil {
		run.CompletedAt = *m.CompletedAt
	}
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &run.Config); err != nil {
			return nil, fmt.Errorf("解析 run config 失败: %w", err)
		}
	}
	if len(m.Stats) > 0 {
		if err := json.Unmarshal(m.Stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("解析 run stats 失败: %w", err)
		}
	}
	return run, nil
}
