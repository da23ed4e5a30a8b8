package models

import "github.com/shopspring/decimal"

// Config is the application configuration loaded from the JSON (or YAML) file.
type Config struct {
	Testnet   bool            `json:"testnet" yaml:"testnet"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Schedule  ScheduleConfig  `json:"schedule" yaml:"schedule"`
	Scanner   ScannerConfig   `json:"scanner" yaml:"scanner"`
	Optimizer OptimizerConfig `json:"optimizer" yaml:"optimizer"`
	Reentry   ReentryConfig   `json:"reentry" yaml:"reentry"`
	Backtest  BacktestConfig  `json:"backtest" yaml:"backtest"`
	Defaults  TradeDefaults   `json:"defaults" yaml:"defaults"`
	ML        MLConfig        `json:"ml" yaml:"ml"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Users     []UserAccount   `json:"users" yaml:"users"`
	LogConfig LogConfig       `json:"log" yaml:"log"`
}

// ExchangeConfig controls the Binance connector.
type ExchangeConfig struct {
	APIURL             string  `json:"api_url" yaml:"api_url"`
	StreamURL          string  `json:"stream_url" yaml:"stream_url"`
	TimeoutSeconds     int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSecond  float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst              int     `json:"burst" yaml:"burst"`
	PriceMaxAgeSeconds int     `json:"price_max_age_seconds" yaml:"price_max_age_seconds"`
	FilterCacheMinutes int     `json:"filter_cache_minutes" yaml:"filter_cache_minutes"`
	// PaperBalance seeds every user's quote balance in paper mode.
	PaperBalance float64 `json:"paper_balance" yaml:"paper_balance"`
}

type StorageConfig struct {
	BadgerPath  string `json:"badger_path" yaml:"badger_path"`
	JournalPath string `json:"journal_path" yaml:"journal_path"`
}

// ScheduleConfig holds the cycle intervals in seconds.
type ScheduleConfig struct {
	OrchestratorSeconds int `json:"orchestrator_seconds" yaml:"orchestrator_seconds"`
	PrimaryExitSeconds  int `json:"primary_exit_seconds" yaml:"primary_exit_seconds"`
	FallbackExitSeconds int `json:"fallback_exit_seconds" yaml:"fallback_exit_seconds"`
	ReentrySeconds      int `json:"reentry_seconds" yaml:"reentry_seconds"`
	PairTickSeconds     int `json:"pair_tick_seconds" yaml:"pair_tick_seconds"`
}

type ScannerConfig struct {
	CandleLimit int    `json:"candle_limit" yaml:"candle_limit"`
	MinCandles  int    `json:"min_candles" yaml:"min_candles"`
	TopN        int    `json:"top_n" yaml:"top_n"`
	Timeframe   string `json:"timeframe" yaml:"timeframe"`
	Concurrency int    `json:"concurrency" yaml:"concurrency"`
	// QuoteAsset restricts the scan to symbols settled in this asset. Empty scans everything.
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"`
}

type OptimizerConfig struct {
	CandleLimit int `json:"candle_limit" yaml:"candle_limit"`
	MinCandles  int `json:"min_candles" yaml:"min_candles"`
}

type ReentryConfig struct {
	LookbackMinutes int `json:"lookback_minutes" yaml:"lookback_minutes"`
}

type BacktestConfig struct {
	WarmupBars int `json:"warmup_bars" yaml:"warmup_bars"`
}

// TradeDefaults are used when neither the pair nor the user settings provide a value.
type TradeDefaults struct {
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	RiskPct       float64 `json:"risk_pct" yaml:"risk_pct"`
	CommissionPct float64 `json:"commission_pct" yaml:"commission_pct"`
}

type MLConfig struct {
	URL            string `json:"url" yaml:"url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

// UserAccount binds a user id to the environment variables holding its API credentials
// and to the settings it starts with when nothing is stored yet.
type UserAccount struct {
	ID           int64        `json:"id" yaml:"id"`
	APIKeyEnv    string       `json:"api_key_env" yaml:"api_key_env"`
	SecretKeyEnv string       `json:"secret_key_env" yaml:"secret_key_env"`
	Settings     UserSettings `json:"settings" yaml:"settings"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Output     string `json:"output" yaml:"output"` // console, file, both
	Format     string `json:"format" yaml:"format"` // console (colored text) or json
	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Order is the exchange's answer to a market order.
type Order struct {
	Symbol        string
	Side          string
	OrderID       int64
	ClientOrderID string
	Status        string
	ExecutedQty   decimal.Decimal
	// AvgPrice is zero when the exchange did not report fills.
	AvgPrice   decimal.Decimal
	Commission decimal.Decimal
}

// SymbolFilter holds the trading increments of one symbol.
type SymbolFilter struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}
