package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/timeframe"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the config file at path: JSON by default, YAML for .yaml/.yml paths.
// Missing values are defaulted and the result is validated.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *models.Config) {
	ex := &cfg.Exchange
	if ex.TimeoutSeconds == 0 {
		ex.TimeoutSeconds = 10
	}
	if ex.RequestsPerSecond == 0 {
		ex.RequestsPerSecond = 10
	}
	if ex.Burst == 0 {
		ex.Burst = 1
	}
	if ex.PriceMaxAgeSeconds == 0 {
		ex.PriceMaxAgeSeconds = 10
	}
	if ex.FilterCacheMinutes == 0 {
		ex.FilterCacheMinutes = 60
	}
	if ex.PaperBalance == 0 {
		ex.PaperBalance = 1000
	}

	if cfg.Storage.BadgerPath == "" {
		cfg.Storage.BadgerPath = "data/badger"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = "data/journal.db"
	}

	s := &cfg.Schedule
	if s.OrchestratorSeconds == 0 {
		s.OrchestratorSeconds = 3600
	}
	if s.PrimaryExitSeconds == 0 {
		s.PrimaryExitSeconds = 30
	}
	if s.FallbackExitSeconds == 0 {
		s.FallbackExitSeconds = 15
	}
	if s.ReentrySeconds == 0 {
		s.ReentrySeconds = 300
	}
	if s.PairTickSeconds == 0 {
		s.PairTickSeconds = 5
	}

	sc := &cfg.Scanner
	if sc.CandleLimit == 0 {
		sc.CandleLimit = 500
	}
	if sc.MinCandles == 0 {
		sc.MinCandles = 50
	}
	if sc.TopN == 0 {
		sc.TopN = 5
	}
	if sc.Timeframe == "" {
		sc.Timeframe = "15m"
	}
	if sc.Concurrency == 0 {
		sc.Concurrency = 8
	}

	if cfg.Optimizer.CandleLimit == 0 {
		cfg.Optimizer.CandleLimit = 500
	}
	if cfg.Optimizer.MinCandles == 0 {
		cfg.Optimizer.MinCandles = 100
	}
	if cfg.Reentry.LookbackMinutes == 0 {
		cfg.Reentry.LookbackMinutes = 24 * 60
	}
	if cfg.Backtest.WarmupBars == 0 {
		cfg.Backtest.WarmupBars = 1
	}

	d := &cfg.Defaults
	if d.TakeProfitPct == 0 {
		d.TakeProfitPct = 0.5
	}
	if d.StopLossPct == 0 {
		d.StopLossPct = 0.3
	}
	if d.RiskPct == 0 {
		d.RiskPct = 1.0
	}
	if d.CommissionPct == 0 {
		d.CommissionPct = 0.1
	}

	if cfg.ML.URL == "" {
		cfg.ML.URL = "ws://127.0.0.1:8765/predict"
	}
	if cfg.ML.TimeoutSeconds == 0 {
		cfg.ML.TimeoutSeconds = 5
	}

	for i := range cfg.Users {
		u := &cfg.Users[i]
		if u.Settings.UserID == 0 {
			u.Settings.UserID = u.ID
		}
		if u.Settings.Strategy == "" {
			u.Settings.Strategy = models.StrategyRsiEma
		}
		if u.APIKeyEnv == "" {
			u.APIKeyEnv = fmt.Sprintf("BINANCE_API_KEY_%d", u.ID)
		}
		if u.SecretKeyEnv == "" {
			u.SecretKeyEnv = fmt.Sprintf("BINANCE_SECRET_KEY_%d", u.ID)
		}
	}

	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}
}

// Validate rejects values no component can work with.
func Validate(cfg *models.Config) error {
	s := cfg.Schedule
	for name, v := range map[string]int{
		"schedule.orchestrator_seconds":  s.OrchestratorSeconds,
		"schedule.primary_exit_seconds":  s.PrimaryExitSeconds,
		"schedule.fallback_exit_seconds": s.FallbackExitSeconds,
		"schedule.reentry_seconds":       s.ReentrySeconds,
		"schedule.pair_tick_seconds":     s.PairTickSeconds,
		"exchange.timeout_seconds":       cfg.Exchange.TimeoutSeconds,
		"exchange.burst":                 cfg.Exchange.Burst,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if cfg.Exchange.RequestsPerSecond <= 0 {
		return fmt.Errorf("exchange.requests_per_second must be positive")
	}
	if cfg.Scanner.TopN <= 0 || cfg.Scanner.MinCandles <= 0 || cfg.Scanner.CandleLimit < cfg.Scanner.MinCandles {
		return fmt.Errorf("scanner: need top_n > 0 and candle_limit >= min_candles > 0")
	}
	if _, err := timeframe.Parse(cfg.Scanner.Timeframe); err != nil {
		return fmt.Errorf("scanner.timeframe: %w", err)
	}
	if cfg.Optimizer.CandleLimit < cfg.Optimizer.MinCandles {
		return fmt.Errorf("optimizer.candle_limit must be >= optimizer.min_candles")
	}

	d := cfg.Defaults
	if d.TakeProfitPct <= 0 || d.StopLossPct <= 0 {
		return fmt.Errorf("defaults: take_profit_pct and stop_loss_pct must be positive")
	}
	if d.StopLossPct >= 100 {
		return fmt.Errorf("defaults.stop_loss_pct must be below 100")
	}
	if d.RiskPct <= 0 || d.RiskPct > 100 {
		return fmt.Errorf("defaults.risk_pct must be in (0, 100], got %v", d.RiskPct)
	}
	if d.CommissionPct < 0 {
		return fmt.Errorf("defaults.commission_pct must not be negative")
	}

	seen := make(map[int64]bool, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.ID <= 0 {
			return fmt.Errorf("users: id must be positive, got %d", u.ID)
		}
		if seen[u.ID] {
			return fmt.Errorf("users: duplicate id %d", u.ID)
		}
		seen[u.ID] = true
		if !u.Settings.Strategy.Valid() {
			return fmt.Errorf("user %d: unknown strategy %q", u.ID, u.Settings.Strategy)
		}
		if u.Settings.RiskPct < 0 || u.Settings.RiskPct > 100 {
			return fmt.Errorf("user %d: risk_pct must be in (0, 100]", u.ID)
		}
		if u.Settings.Timeframe != "" {
			if _, err := timeframe.Parse(u.Settings.Timeframe); err != nil {
				return fmt.Errorf("user %d: %w", u.ID, err)
			}
		}
	}
	return nil
}
