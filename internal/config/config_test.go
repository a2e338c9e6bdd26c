package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "data/candles", cfg.Data.CandleRoot)
	assert.Equal(t, "binance", cfg.Fetch.DefaultExchange)
	assert.Equal(t, 480, cfg.Fetch.RateLimitPerMin)
	assert.Equal(t, "sma_crossover", cfg.Backtest.DefaultStrategy)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 100, cfg.Backtest.SnapshotWindow)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8080"
data:
  candle_root: /tmp/candles
fetch:
  default_exchange: bybit
  rate_limit_per_min: 120
backtest:
  commission_rate: 0.001
  slippage_rate: 0.0005
strategy:
  profiles_path: configs/strategies.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "/tmp/candles", cfg.Data.CandleRoot)
	assert.Equal(t, "bybit", cfg.Fetch.DefaultExchange)
	assert.Equal(t, 120, cfg.Fetch.RateLimitPerMin)
	assert.Equal(t, 0.001, cfg.Backtest.CommissionRate)
	assert.Equal(t, "configs/strategies.yaml", cfg.Strategy.ProfilesPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "backtest:\n  commission_rate: 1.5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "fetch:\n  default_exchange: kraken\n"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
