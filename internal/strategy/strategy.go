// Package strategy holds the signal generators and the registry that resolves them by type.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"
)

// ErrUnsupportedStrategy is returned when a strategy type has no registered implementation.
var ErrUnsupportedStrategy = errors.New("unsupported strategy")

// Strategy produces a BUY/SELL/HOLD signal from a candle window and its settings.
type Strategy interface {
	Type() models.StrategyType
	// Evaluate never mutates settings. Insufficient data yields HOLD, not an error.
	Evaluate(ctx context.Context, candles []models.Candle, settings models.StrategySettings) (models.Signal, error)
	// Settings returns the user's settings for this strategy, creating the defaults when none exist.
	Settings(userID int64) (models.StrategySettings, error)
}

// Trainable is implemented by strategies that can refit their model for a user.
type Trainable interface {
	Train(ctx context.Context, userID int64) error
}

// SettingsStore is the persistence the strategies read their settings from.
type SettingsStore interface {
	StrategySettings(userID int64, t models.StrategyType) (models.StrategySettings, error)
	SaveStrategySettings(userID int64, s models.StrategySettings) error
}

// Registry maps each strategy type to its single instance.
type Registry struct {
	strategies map[models.StrategyType]Strategy
}

// NewRegistry registers the given strategies. A later strategy of the same type replaces an earlier one.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[models.StrategyType]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Type()] = s
	}
	return r
}

// Get resolves a strategy. An unregistered type is a configuration error.
func (r *Registry) Get(t models.StrategyType) (Strategy, error) {
	s, ok := r.strategies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, t)
	}
	return s, nil
}

// Types lists the registered strategy types in a stable order.
func (r *Registry) Types() []models.StrategyType {
	out := make([]models.StrategyType, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// settingsLoader implements Strategy.Settings for every variant.
type settingsLoader struct {
	store SettingsStore
	typ   models.StrategyType
}

func (l settingsLoader) Settings(userID int64) (models.StrategySettings, error) {
	s, err := l.store.StrategySettings(userID, l.typ)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load %s settings for user %d: %w", l.typ, userID, err)
	}
	s = models.DefaultStrategySettings(l.typ)
	if err := l.store.SaveStrategySettings(userID, s); err != nil {
		return nil, fmt.Errorf("save default %s settings for user %d: %w", l.typ, userID, err)
	}
	return s, nil
}

func settingsMismatch(want models.StrategyType, got models.StrategySettings) error {
	if got == nil {
		return fmt.Errorf("%s: missing settings", want)
	}
	return fmt.Errorf("%s: settings of type %s", want, got.StrategyType())
}
