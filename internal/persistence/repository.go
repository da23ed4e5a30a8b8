package persistence

import (
	"errors"
	"time"

	"binance-ai-trader-go/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPositionOpen is returned when opening a trade for a (user, symbol) that already has one open.
	ErrPositionOpen = errors.New("position already open")
	// ErrTradeClosed is returned when closing a trade that is already closed.
	ErrTradeClosed = errors.New("trade already closed")
)

// TradeRepository stores the trade lifecycle.
// At most one open trade exists per (user, symbol) and a closed trade is never written again.
type TradeRepository interface {
	// OpenTrade inserts a new open trade. It fails with ErrPositionOpen if the (user, symbol) is taken.
	OpenTrade(trade *models.TradeLog) error

	// CloseTrade stamps the exit fields in a single read-modify-write.
	// It fails with ErrTradeClosed if another writer closed the trade first.
	CloseTrade(id string, exit models.TradeExit) (*models.TradeLog, error)

	Trade(id string) (*models.TradeLog, error)
	OpenTrades() ([]models.TradeLog, error)
	HasOpenTrade(userID int64, symbol string) (bool, error)
	RecentClosedProfitable(userID int64, since time.Time) ([]models.TradeLog, error)
	ClosedTrades(userID int64) ([]models.TradeLog, error)
}

// PairRepository stores ProfitablePairs, unique per (user, symbol).
type PairRepository interface {
	UpsertPair(pair models.ProfitablePair) error
	Pair(userID int64, symbol string) (*models.ProfitablePair, error)
	ActivePairs(userID int64) ([]models.ProfitablePair, error)
	AllActivePairs() ([]models.ProfitablePair, error)
	SetPairActive(userID int64, symbol string, active bool) error
}

// SettingsRepository stores user and strategy settings.
type SettingsRepository interface {
	SaveUserSettings(settings models.UserSettings) error
	UserSettings(userID int64) (*models.UserSettings, error)
	ListUserSettings() ([]models.UserSettings, error)
	SaveStrategySettings(userID int64, settings models.StrategySettings) error
	StrategySettings(userID int64, t models.StrategyType) (models.StrategySettings, error)
}

// CandleRepository stores candle series keyed by (symbol, timeframe, open time).
type CandleRepository interface {
	SaveCandles(candles []models.Candle) error
	// LoadCandles returns up to limit of the newest candles in ascending order.
	LoadCandles(symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Store is the full persistence contract.
type Store interface {
	TradeRepository
	PairRepository
	SettingsRepository
	CandleRepository
	// Close gracefully closes the connection to the database.
	Close() error
}
