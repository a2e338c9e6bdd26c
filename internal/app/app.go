// Package app 负责装配：按配置把存储、数据源、模拟器与 HTTP 层
// 串成一个可运行的服务。
package app

import (
	"context"
	"fmt"

	"vela/internal/backtest"
	"vela/internal/config"
	"vela/internal/logger"
	"vela/internal/strategy"
)

// App 持有全部子系统。
type App struct {
	cfg      *config.Config
	store    *backtest.Store
	results  *backtest.ResultStore
	fetcher  *backtest.Service
	registry *strategy.Registry
	sim      *backtest.Simulator
	http     *backtest.HTTPServer
}

// NewApp 按配置构建应用。任何一个子系统初始化失败都直接返回错误。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config 不能为空")
	}

	store, err := backtest.NewStore(cfg.Data.CandleRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化 candle store 失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("初始化 result store 失败: %w", err)
	}

	sources := map[string]backtest.CandleSource{
		"binance": backtest.NewBinanceSource(cfg.Fetch.BinanceBaseURL),
		"bybit":   backtest.NewBybitSource(cfg.Fetch.BybitBaseURL),
	}
	fetcher, err := backtest.NewService(backtest.ServiceConfig{
		Store:           store,
		Sources:         sources,
		DefaultExchange: cfg.Fetch.DefaultExchange,
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxBatch:        cfg.Fetch.MaxBatch,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 fetch service 失败: %w", err)
	}

	var registry *strategy.Registry
	if cfg.Strategy.ProfilesPath != "" {
		registry, err = strategy.NewRegistry(cfg.Strategy.ProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("初始化 strategy registry 失败: %w", err)
		}
	} else {
		registry = strategy.NewStaticRegistry()
		logger.Warnf("未配置 strategy.profiles_path，仅内置策略可用")
	}

	var notifier backtest.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = backtest.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:     store,
		ResultStore:     results,
		Fetcher:         fetcher,
		Registry:        registry,
		Notifier:        notifier,
		DefaultStrategy: cfg.Backtest.DefaultStrategy,
		MaxConcurrent:   cfg.Backtest.MaxConcurrent,
		InitialCapital:  cfg.Backtest.InitialCapital,
		CommissionRate:  cfg.Backtest.CommissionRate,
		SlippageRate:    cfg.Backtest.SlippageRate,
		SnapshotWindow:  cfg.Backtest.SnapshotWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 simulator 失败: %w", err)
	}

	httpServer, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       fetcher,
		Simulator: sim,
		Results:   results,
		Registry:  registry,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    store,
		results:  results,
		fetcher:  fetcher,
		registry: registry,
		sim:      sim,
		http:     httpServer,
	}, nil
}

// Run 启动服务并阻塞，ctx 取消后做清理。
func (a *App) Run(ctx context.Context) error {
	a.fetcher.SetContext(ctx)
	a.sim.SetContext(ctx)

	logger.Infof("vela 启动：http=%s candle_root=%s results=%s",
		a.cfg.App.HTTPAddr, a.cfg.Data.CandleRoot, a.cfg.Data.ResultsPath)

	err := a.http.Start(ctx)

	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("关闭 candle store 失败: %v", cerr)
	}
	if cerr := a.results.Close(); cerr != nil {
		logger.Warnf("关闭 result store 失败: %v", cerr)
	}
	return err
}
