package models

import "time"

// UserSettings are the per-user trading settings consumed by the cycles.
type UserSettings struct {
	UserID             int64        `json:"user_id" yaml:"user_id"`
	Enabled            bool         `json:"enabled" yaml:"enabled"`
	Strategy           StrategyType `json:"strategy" yaml:"strategy"`
	Timeframe          string       `json:"timeframe" yaml:"timeframe"`
	RiskPct            float64      `json:"risk_pct" yaml:"risk_pct"`
	CommissionPct      float64      `json:"commission_pct" yaml:"commission_pct"`
	TopN               int          `json:"top_n" yaml:"top_n"`
	CachedCandlesLimit int          `json:"cached_candles_limit" yaml:"cached_candles_limit"`
	Symbols            []string     `json:"symbols" yaml:"symbols"`
}

// StrategySettings is implemented by every per-strategy settings variant.
type StrategySettings interface {
	StrategyType() StrategyType
	Common() StrategyCommon
}

// StrategyCommon holds the fields every strategy variant carries.
type StrategyCommon struct {
	Symbol             string  `json:"symbol"`
	Timeframe          string  `json:"timeframe"`
	CachedCandlesLimit int     `json:"cached_candles_limit"`
	TakeProfitPct      float64 `json:"take_profit_pct"`
	StopLossPct        float64 `json:"stop_loss_pct"`
}

// DefaultCandleLimit is the evaluation window when neither the user nor the strategy sets one.
const DefaultCandleLimit = 500

// CandleWindow resolves the timeframe and candle count a user's strategy is evaluated on, live
// and in backtests alike. User settings win over the strategy's, then 1m and DefaultCandleLimit.
func CandleWindow(us UserSettings, common StrategyCommon) (string, int) {
	tf := us.Timeframe
	if tf == "" {
		tf = common.Timeframe
	}
	if tf == "" {
		tf = "1m"
	}
	limit := us.CachedCandlesLimit
	if limit <= 0 {
		limit = common.CachedCandlesLimit
	}
	if limit <= 0 {
		limit = DefaultCandleLimit
	}
	return tf, limit
}

func defaultCommon() StrategyCommon {
	return StrategyCommon{
		Timeframe:          "1m",
		CachedCandlesLimit: DefaultCandleLimit,
		TakeProfitPct:      1.0,
		StopLossPct:        0.5,
	}
}

// RsiEmaSettings configures the RSI/EMA crossover strategy. The range lists feed the offline
// optimizer and are only stored here.
type RsiEmaSettings struct {
	StrategyCommon
	EmaShort          int       `json:"ema_short"`
	EmaLong           int       `json:"ema_long"`
	RsiPeriod         int       `json:"rsi_period"`
	RsiBuyThreshold   float64   `json:"rsi_buy_threshold"`
	RsiSellThreshold  float64   `json:"rsi_sell_threshold"`
	TakeProfitWindow  int       `json:"take_profit_window"`
	RsiPeriods        []int     `json:"rsi_periods"`
	EmaShorts         []int     `json:"ema_shorts"`
	EmaLongs          []int     `json:"ema_longs"`
	RsiBuyThresholds  []float64 `json:"rsi_buy_thresholds"`
	RsiSellThresholds []float64 `json:"rsi_sell_thresholds"`
}

func (s *RsiEmaSettings) StrategyType() StrategyType { return StrategyRsiEma }
func (s *RsiEmaSettings) Common() StrategyCommon     { return s.StrategyCommon }

// DefaultRsiEmaSettings returns the reset-to-default RSI/EMA settings.
func DefaultRsiEmaSettings() *RsiEmaSettings {
	return &RsiEmaSettings{
		StrategyCommon:    defaultCommon(),
		EmaShort:          9,
		EmaLong:           21,
		RsiPeriod:         14,
		RsiBuyThreshold:   30,
		RsiSellThreshold:  70,
		TakeProfitWindow:  10,
		RsiPeriods:        []int{7, 14, 21},
		EmaShorts:         []int{5, 9, 12},
		EmaLongs:          []int{21, 26, 50},
		RsiBuyThresholds:  []float64{25, 30, 35},
		RsiSellThresholds: []float64{65, 70, 75},
	}
}

// ScalpingSettings configures the momentum + volume-surge scalper.
type ScalpingSettings struct {
	StrategyCommon
	WindowSize           int     `json:"window_size"`
	PriceChangeThreshold float64 `json:"price_change_threshold"` // percent per sqrt(bar)
	VolumeMultiplier     float64 `json:"volume_multiplier"`
	MinVolume            float64 `json:"min_volume"`
	SpreadThreshold      float64 `json:"spread_threshold"`
}

func (s *ScalpingSettings) StrategyType() StrategyType { return StrategyScalping }
func (s *ScalpingSettings) Common() StrategyCommon     { return s.StrategyCommon }

func DefaultScalpingSettings() *ScalpingSettings {
	c := defaultCommon()
	c.TakeProfitPct = 0.5
	c.StopLossPct = 0.3
	return &ScalpingSettings{
		StrategyCommon:       c,
		WindowSize:           5,
		PriceChangeThreshold: 0.1,
		VolumeMultiplier:     1.5,
		MinVolume:            0,
		SpreadThreshold:      0.1,
	}
}

// FibonacciGridSettings configures the percentage grid strategy.
type FibonacciGridSettings struct {
	StrategyCommon
	GridLevels  int     `json:"grid_levels"`
	DistancePct float64 `json:"distance_pct"`
	BaseAmount  float64 `json:"base_amount"`
}

func (s *FibonacciGridSettings) StrategyType() StrategyType { return StrategyFibonacciGrid }
func (s *FibonacciGridSettings) Common() StrategyCommon     { return s.StrategyCommon }

func DefaultFibonacciGridSettings() *FibonacciGridSettings {
	return &FibonacciGridSettings{
		StrategyCommon: defaultCommon(),
		GridLevels:     5,
		DistancePct:    0.5,
		BaseAmount:     10,
	}
}

// MLModelSettings configures the model-backed strategy.
type MLModelSettings struct {
	StrategyCommon
	ModelPath     string     `json:"model_path"`
	FeatureList   []string   `json:"feature_list"`
	Threshold     float64    `json:"threshold"`
	LastTrainedAt *time.Time `json:"last_trained_at,omitempty"`
	NEstimators   int        `json:"n_estimators"`
	MaxDepth      int        `json:"max_depth"`
	LearningRate  float64    `json:"learning_rate"`
}

func (s *MLModelSettings) StrategyType() StrategyType { return StrategyMLModel }
func (s *MLModelSettings) Common() StrategyCommon     { return s.StrategyCommon }

func DefaultMLModelSettings() *MLModelSettings {
	return &MLModelSettings{
		StrategyCommon: defaultCommon(),
		ModelPath:      "models/ml_model.pkl",
		FeatureList:    []string{"rsi14", "bb_pct_b", "volume_ratio", "ema_diff"},
		Threshold:      0.6,
		NEstimators:    100,
		MaxDepth:       4,
		LearningRate:   0.1,
	}
}

// NewStrategySettings returns a zero value of the settings variant for t, or nil for unknown types.
func NewStrategySettings(t StrategyType) StrategySettings {
	switch t {
	case StrategyRsiEma:
		return &RsiEmaSettings{}
	case StrategyScalping:
		return &ScalpingSettings{}
	case StrategyFibonacciGrid:
		return &FibonacciGridSettings{}
	case StrategyMLModel:
		return &MLModelSettings{}
	}
	return nil
}

// DefaultStrategySettings returns the reset-to-default settings for t, or nil for unknown types.
func DefaultStrategySettings(t StrategyType) StrategySettings {
	switch t {
	case StrategyRsiEma:
		return DefaultRsiEmaSettings()
	case StrategyScalping:
		return DefaultScalpingSettings()
	case StrategyFibonacciGrid:
		return DefaultFibonacciGridSettings()
	case StrategyMLModel:
		return DefaultMLModelSettings()
	}
	return nil
}
