// Package orchestrator runs the hourly scan -> optimize -> execute cycle and the fast tick that
// evaluates every active pair.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"binance-ai-trader-go/internal/metrics"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/optimizer"

	"go.uber.org/zap"
)

const (
	DefaultTopN      = 5
	DefaultTimeframe = "15m"
)

type Store interface {
	ListUserSettings() ([]models.UserSettings, error)
	ActivePairs(userID int64) ([]models.ProfitablePair, error)
	AllActivePairs() ([]models.ProfitablePair, error)
	SetPairActive(userID int64, symbol string, active bool) error
}

type Scanner interface {
	ScanTopSymbols(ctx context.Context, n int, timeframe string) ([]string, error)
}

type Optimizer interface {
	Optimize(ctx context.Context, userID int64, symbols []string, timeframe string) []optimizer.Result
}

type Executor interface {
	ProcessPairs(ctx context.Context, userID int64, pairs []models.ProfitablePair) []models.TradeLog
}

type Orchestrator struct {
	store     Store
	scanner   Scanner
	optimizer Optimizer
	executor  Executor
	topN      int
	timeframe string
	logger    *zap.Logger
}

func New(store Store, scanner Scanner, opt Optimizer, exec Executor, cfg models.ScannerConfig, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		scanner:   scanner,
		optimizer: opt,
		executor:  exec,
		topN:      cfg.TopN,
		timeframe: cfg.Timeframe,
		logger:    logger,
	}
	if o.topN <= 0 {
		o.topN = DefaultTopN
	}
	if o.timeframe == "" {
		o.timeframe = DefaultTimeframe
	}
	return o
}

// Cycle runs scan, optimize and execute for every enabled user. It always visits every user;
// the returned count is the number of users that failed.
func (o *Orchestrator) Cycle(ctx context.Context) (int, error) {
	users, err := o.store.ListUserSettings()
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	// scans are shared between users asking for the same N within one cycle
	scans := make(map[int][]string)
	failed := 0
	for _, us := range users {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}
		if !us.Enabled {
			continue
		}
		if err := o.runUser(ctx, us, scans); err != nil {
			failed++
			metrics.CycleFailures.WithLabelValues("orchestrator").Inc()
			o.logger.Error("Orchestration failed for user", zap.Int64("user", us.UserID), zap.Error(err))
		}
	}
	return failed, nil
}

func (o *Orchestrator) runUser(ctx context.Context, us models.UserSettings, scans map[int][]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	n := us.TopN
	if n <= 0 {
		n = o.topN
	}
	top, ok := scans[n]
	if !ok {
		top, err = o.scanner.ScanTopSymbols(ctx, n, o.timeframe)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		scans[n] = top
	}
	if len(top) == 0 {
		o.logger.Warn("Scanner returned no symbols", zap.Int64("user", us.UserID))
		return nil
	}

	results := o.optimizer.Optimize(ctx, us.UserID, top, o.timeframe)
	if err := o.retire(us.UserID, top); err != nil {
		return err
	}

	pairs, err := o.store.ActivePairs(us.UserID)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	opened := o.executor.ProcessPairs(ctx, us.UserID, pairs)
	o.logger.Info("Orchestration cycle done",
		zap.Int64("user", us.UserID),
		zap.Strings("top", top),
		zap.Int("optimized", len(results)),
		zap.Int("active", len(pairs)),
		zap.Int("opened", len(opened)))
	return nil
}

// retire deactivates the user's active pairs that are no longer in the top list.
func (o *Orchestrator) retire(userID int64, top []string) error {
	keep := make(map[string]bool, len(top))
	for _, s := range top {
		keep[s] = true
	}
	pairs, err := o.store.ActivePairs(userID)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}
	for _, p := range pairs {
		if keep[p.Symbol] {
			continue
		}
		if err := o.store.SetPairActive(userID, p.Symbol, false); err != nil {
			o.logger.Warn("Failed to deactivate pair", zap.Int64("user", userID), zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		o.logger.Info("Pair left the top list, deactivated", zap.Int64("user", userID), zap.String("symbol", p.Symbol))
	}
	return nil
}

// PairTick evaluates every active pair for its user.
func (o *Orchestrator) PairTick(ctx context.Context) ([]models.TradeLog, error) {
	pairs, err := o.store.AllActivePairs()
	if err != nil {
		return nil, fmt.Errorf("active pairs: %w", err)
	}
	byUser := make(map[int64][]models.ProfitablePair)
	for _, p := range pairs {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	userIDs := make([]int64, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	var opened []models.TradeLog
	for _, id := range userIDs {
		if ctx.Err() != nil {
			return opened, ctx.Err()
		}
		opened = append(opened, o.executor.ProcessPairs(ctx, id, byUser[id])...)
	}
	return opened, nil
}
