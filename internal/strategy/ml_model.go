package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binance-ai-trader-go/internal/indicators"
	"binance-ai-trader-go/internal/models"
)

// Predictor returns the probability that the next move is up. Implementations absorb their own
// failures and answer 0.5 instead.
type Predictor interface {
	Predict(ctx context.Context, modelPath string, features []float64) float64
}

// ModelTrainer refits a model from feature rows.
type ModelTrainer interface {
	Train(ctx context.Context, req TrainRequest) error
}

// TrainRequest is what the ML strategy sends to the trainer.
type TrainRequest struct {
	ModelPath    string
	Features     [][]float64
	NEstimators  int
	MaxDepth     int
	LearningRate float64
}

// CandleLoader supplies history for training.
type CandleLoader interface {
	LoadHistory(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// MLModel asks the prediction service about the latest feature row.
// p >= threshold is a BUY, p <= 1-threshold a SELL.
type MLModel struct {
	settingsLoader
	predictor Predictor
	trainer   ModelTrainer
	candles   CandleLoader
	now       func() time.Time
}

// NewMLModel wires the strategy. trainer and candles may be nil, which disables Train.
func NewMLModel(store SettingsStore, predictor Predictor, trainer ModelTrainer, candles CandleLoader) *MLModel {
	return &MLModel{
		settingsLoader: settingsLoader{store: store, typ: models.StrategyMLModel},
		predictor:      predictor,
		trainer:        trainer,
		candles:        candles,
		now:            time.Now,
	}
}

func (s *MLModel) Type() models.StrategyType { return models.StrategyMLModel }

func (s *MLModel) Evaluate(ctx context.Context, candles []models.Candle, settings models.StrategySettings) (models.Signal, error) {
	cfg, ok := settings.(*models.MLModelSettings)
	if !ok {
		return models.SignalHold, settingsMismatch(models.StrategyMLModel, settings)
	}
	rows := indicators.BuildFeatures(candles)
	if len(rows) == 0 {
		return models.SignalHold, nil
	}
	p := s.predictor.Predict(ctx, cfg.ModelPath, rows[len(rows)-1])

	threshold := cfg.Threshold
	if threshold <= 0.5 || threshold > 1 {
		threshold = 0.5
	}
	switch {
	case p >= threshold && p > 0.5:
		return models.SignalBuy, nil
	case p <= 1-threshold && p < 0.5:
		return models.SignalSell, nil
	}
	return models.SignalHold, nil
}

// Train rebuilds the user's model from fresh history and stamps LastTrainedAt.
func (s *MLModel) Train(ctx context.Context, userID int64) error {
	if s.trainer == nil || s.candles == nil {
		return errors.New("ml model training is not configured")
	}
	settings, err := s.Settings(userID)
	if err != nil {
		return err
	}
	cfg, ok := settings.(*models.MLModelSettings)
	if !ok {
		return settingsMismatch(models.StrategyMLModel, settings)
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("ml model settings for user %d have no symbol", userID)
	}
	history, err := s.candles.LoadHistory(ctx, cfg.Symbol, cfg.Timeframe, cfg.CachedCandlesLimit)
	if err != nil {
		return fmt.Errorf("load training history: %w", err)
	}
	rows := indicators.BuildFeatures(history)
	if len(rows) == 0 {
		return fmt.Errorf("not enough candles to train on %s: %d", cfg.Symbol, len(history))
	}
	err = s.trainer.Train(ctx, TrainRequest{
		ModelPath:    cfg.ModelPath,
		Features:     rows,
		NEstimators:  cfg.NEstimators,
		MaxDepth:     cfg.MaxDepth,
		LearningRate: cfg.LearningRate,
	})
	if err != nil {
		return fmt.Errorf("train model %s: %w", cfg.ModelPath, err)
	}
	trainedAt := s.now()
	cfg.LastTrainedAt = &trainedAt
	return s.store.SaveStrategySettings(userID, cfg)
}
