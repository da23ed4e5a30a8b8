// Package storage keeps the trade journal: closed trades and backtest runs in sqlite.
package storage

import (
	"errors"
	"fmt"
	"time"

	"binance-ai-trader-go/internal/backtest"
	"binance-ai-trader-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// JournalEntry is one closed trade.
type JournalEntry struct {
	TradeID    string            `gorm:"primaryKey;type:varchar(64)" json:"trade_id"`
	UserID     int64             `gorm:"index;not null" json:"user_id"`
	Symbol     string            `gorm:"index;not null" json:"symbol"`
	Strategy   string            `json:"strategy"`
	EntryTime  time.Time         `json:"entry_time"`
	ExitTime   time.Time         `gorm:"index" json:"exit_time"`
	EntryPrice decimal.Decimal   `gorm:"type:numeric" json:"entry_price"`
	ExitPrice  decimal.Decimal   `gorm:"type:numeric" json:"exit_price"`
	Quantity   decimal.Decimal   `gorm:"type:numeric" json:"quantity"`
	PnL        decimal.Decimal   `gorm:"column:pnl;type:numeric" json:"pnl"`
	Reason     models.ExitReason `json:"reason"`
	ClosedBy   string            `json:"closed_by"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (JournalEntry) TableName() string { return "journal_entries" }

// BacktestRun is the summary of one simulator run.
type BacktestRun struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    int64           `gorm:"index;not null" json:"user_id"`
	Strategy  string          `json:"strategy"`
	Timeframe string          `json:"timeframe"`
	Trades    int             `json:"trades"`
	WinRate   float64         `json:"win_rate"`
	TotalPnL  decimal.Decimal `gorm:"column:total_pnl;type:numeric" json:"total_pnl"`
	CreatedAt time.Time       `json:"created_at"`
}

type BacktestTrade struct {
	ID         uint              `gorm:"primarykey"`
	RunID      string            `gorm:"index;not null;type:varchar(36)"`
	Symbol     string            `gorm:"not null"`
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal   `gorm:"type:numeric"`
	ExitPrice  decimal.Decimal   `gorm:"type:numeric"`
	Reason     models.ExitReason
	Return     decimal.Decimal   `gorm:"column:return_pct;type:numeric"`
}

type Journal struct {
	db *gorm.DB
}

// NewJournal opens (creating if needed) the sqlite journal at path.
func NewJournal(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// Closes arrive from both exit monitors.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := db.AutoMigrate(&JournalEntry{}, &BacktestRun{}, &BacktestTrade{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordClose journals a closed trade. Recording the same trade twice keeps the first row.
func (j *Journal) RecordClose(t models.TradeLog) error {
	if !t.Closed || t.ExitTime == nil || t.ExitPrice == nil || t.PnL == nil {
		return errors.New("journal: trade is not closed")
	}
	entry := JournalEntry{
		TradeID:    t.ID,
		UserID:     t.UserID,
		Symbol:     t.Symbol,
		Strategy:   string(t.Strategy),
		EntryTime:  t.EntryTime,
		ExitTime:   *t.ExitTime,
		EntryPrice: t.EntryPrice,
		ExitPrice:  *t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        *t.PnL,
		Reason:     t.ExitReason,
		ClosedBy:   t.ClosedBy,
	}
	return j.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

// RecentCloses returns the latest closes, newest first.
func (j *Journal) RecentCloses(limit int) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.Order("exit_time DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (j *Journal) TotalPnL(userID int64) (decimal.Decimal, error) {
	var entries []JournalEntry
	if err := j.db.Select("pnl").Where("user_id = ?", userID).Find(&entries).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.PnL)
	}
	return total, nil
}

// RecordBacktest stores the run summary and its trades in one transaction and returns the run id.
func (j *Journal) RecordBacktest(userID int64, result *backtest.Result) (string, error) {
	run := BacktestRun{
		ID:        uuid.NewString(),
		UserID:    userID,
		Strategy:  string(result.Strategy),
		Timeframe: result.Timeframe,
		Trades:    result.TotalTrades(),
		WinRate:   result.WinRate(),
		TotalPnL:  result.TotalPnL(),
	}
	err := j.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(result.Trades) == 0 {
			return nil
		}
		rows := make([]BacktestTrade, len(result.Trades))
		for i, t := range result.Trades {
			rows[i] = BacktestTrade{
				RunID:      run.ID,
				Symbol:     t.Symbol,
				EntryTime:  t.EntryTime,
				ExitTime:   t.ExitTime,
				EntryPrice: t.EntryPrice,
				ExitPrice:  t.ExitPrice,
				Reason:     t.Reason,
				Return:     t.Return,
			}
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return "", fmt.Errorf("record backtest: %w", err)
	}
	return run.ID, nil
}

// BacktestRuns returns the user's runs, newest first.
func (j *Journal) BacktestRuns(userID int64, limit int) ([]BacktestRun, error) {
	var runs []BacktestRun
	err := j.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
