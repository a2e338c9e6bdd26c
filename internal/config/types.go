package config

// Config 是 vela 的主配置载体。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Data     DataConfig     `mapstructure:"data"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

// DataConfig 指定本地存储位置。
type DataConfig struct {
	// CandleRoot 是 K 线 sqlite 文件的根目录（每 symbol@timeframe 一个文件）。
	CandleRoot string `mapstructure:"candle_root"`
	// ResultsPath 是回放结果 sqlite 文件路径。
	ResultsPath string `mapstructure:"results_path"`
}

// FetchConfig 控制历史数据拉取。
type FetchConfig struct {
	DefaultExchange string `mapstructure:"default_exchange"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	MaxBatch        int    `mapstructure:"max_batch"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	BinanceBaseURL  string `mapstructure:"binance_base_url"`
	BybitBaseURL    string `mapstructure:"bybit_base_url"`
}

// BacktestConfig 是回放的默认参数，单次请求可覆盖。
type BacktestConfig struct {
	DefaultStrategy string  `mapstructure:"default_strategy"`
	InitialCapital  float64 `mapstructure:"initial_capital"`
	CommissionRate  float64 `mapstructure:"commission_rate"`
	SlippageRate    float64 `mapstructure:"slippage_rate"`
	MaxConcurrent   int     `mapstructure:"max_concurrent"`
	SnapshotWindow  int     `mapstructure:"snapshot_window"`
}

// StrategyConfig 指定策略 profile 文件。
type StrategyConfig struct {
	ProfilesPath string `mapstructure:"profiles_path"`
}

// NotifyConfig 配置回测完成推送，webhook_url 为空时不推送。
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}
