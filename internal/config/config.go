package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并校验配置文件（YAML）。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9991"
	}
	if c.Data.CandleRoot == "" {
		c.Data.CandleRoot = "data/candles"
	}
	if c.Data.ResultsPath == "" {
		c.Data.ResultsPath = "data/results.db"
	}
	if c.Fetch.DefaultExchange == "" {
		c.Fetch.DefaultExchange = "binance"
	}
	if c.Fetch.RateLimitPerMin <= 0 {
		c.Fetch.RateLimitPerMin = 480
	}
	if c.Fetch.MaxBatch <= 0 {
		c.Fetch.MaxBatch = 1000
	}
	if c.Fetch.MaxConcurrent <= 0 {
		c.Fetch.MaxConcurrent = 2
	}
	if c.Backtest.DefaultStrategy == "" {
		c.Backtest.DefaultStrategy = "sma_crossover"
	}
	if c.Backtest.InitialCapital <= 0 {
		c.Backtest.InitialCapital = 10000
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 1
	}
	if c.Backtest.SnapshotWindow <= 0 {
		c.Backtest.SnapshotWindow = 100
	}
}

func validate(c *Config) error {
	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		return fmt.Errorf("backtest.commission_rate 需在 [0,1) 区间: %v", c.Backtest.CommissionRate)
	}
	if c.Backtest.SlippageRate < 0 || c.Backtest.SlippageRate >= 1 {
		return fmt.Errorf("backtest.slippage_rate 需在 [0,1) 区间: %v", c.Backtest.SlippageRate)
	}
	switch strings.ToLower(c.Fetch.DefaultExchange) {
	case "binance", "bybit":
	default:
		return fmt.Errorf("未知 default_exchange: %s", c.Fetch.DefaultExchange)
	}
	return nil
}
