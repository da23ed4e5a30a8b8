// Package ml talks to the external model process over a local websocket.
package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"binance-ai-trader-go/internal/strategy"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Neutral is the probability reported whenever the model cannot answer.
const Neutral = 0.5

const (
	opPredict = "predict"
	opTrain   = "train"
)

type request struct {
	ID        string      `json:"id"`
	Op        string      `json:"op"`
	ModelPath string      `json:"model_path"`
	Features  interface{} `json:"features"`
	Params    *trainParam `json:"params,omitempty"`
}

type trainParam struct {
	NEstimators  int     `json:"n_estimators"`
	MaxDepth     int     `json:"max_depth"`
	LearningRate float64 `json:"learning_rate"`
}

type response struct {
	ID          string  `json:"id"`
	Probability float64 `json:"probability"`
	Error       string  `json:"error,omitempty"`
}

// WSPredictor is a synchronous request/response client. One call is in flight at a time;
// a broken connection is dropped and redialed on the next call.
type WSPredictor struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var (
	_ strategy.Predictor    = (*WSPredictor)(nil)
	_ strategy.ModelTrainer = (*WSPredictor)(nil)
)

func NewWSPredictor(url string, timeout time.Duration, logger *zap.Logger) *WSPredictor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WSPredictor{
		url:     url,
		timeout: timeout,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
	}
}

// Predict returns the up-move probability for one feature row, or Neutral on any failure.
func (p *WSPredictor) Predict(ctx context.Context, modelPath string, features []float64) float64 {
	resp, err := p.roundTrip(ctx, request{Op: opPredict, ModelPath: modelPath, Features: features})
	if err != nil {
		p.logger.Warn("Prediction failed, using neutral probability", zap.String("model", modelPath), zap.Error(err))
		return Neutral
	}
	return clamp(resp.Probability)
}

// Train asks the model process to refit modelPath from feature rows.
func (p *WSPredictor) Train(ctx context.Context, req strategy.TrainRequest) error {
	_, err := p.roundTrip(ctx, request{
		Op:        opTrain,
		ModelPath: req.ModelPath,
		Features:  req.Features,
		Params: &trainParam{
			NEstimators:  req.NEstimators,
			MaxDepth:     req.MaxDepth,
			LearningRate: req.LearningRate,
		},
	})
	if err != nil {
		return fmt.Errorf("train %s: %w", req.ModelPath, err)
	}
	return nil
}

// Close drops the connection.
func (p *WSPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropLocked()
}

func (p *WSPredictor) roundTrip(ctx context.Context, req request) (*response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if p.conn == nil {
		dialCtx, cancel := context.WithDeadline(ctx, deadline)
		conn, _, err := p.dialer.DialContext(dialCtx, p.url, nil)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("dial model process: %w", err)
		}
		p.conn = conn
	}

	conn := p.conn
	req.ID = uuid.NewString()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		p.dropLocked()
		return nil, fmt.Errorf("send %s: %w", req.Op, err)
	}

	// cancellation interrupts the blocking read
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	conn.SetReadDeadline(deadline)
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		p.dropLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	if resp.ID != req.ID {
		p.dropLocked()
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

func (p *WSPredictor) dropLocked() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return Neutral
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
