package ml

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"binance-ai-trader-go/internal/strategy"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeModel answers each request through handle. A nil response drops the connection.
type fakeModel struct {
	mu       sync.Mutex
	requests []request
	handle   func(req request) *response
}

func (m *fakeModel) serve(t *testing.T) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			m.mu.Lock()
			m.requests = append(m.requests, req)
			m.mu.Unlock()
			resp := m.handle(req)
			if resp == nil {
				return
			}
			resp.ID = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (m *fakeModel) received() []request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]request(nil), m.requests...)
}

func TestPredictReturnsProbability(t *testing.T) {
	model := &fakeModel{handle: func(req request) *response { return &response{Probability: 0.8} }}
	p := NewWSPredictor(model.serve(t), time.Second, zap.NewNop())
	defer p.Close()

	got := p.Predict(context.Background(), "models/btc.pkl", []float64{1, 2, 3})
	assert.InDelta(t, 0.8, got, 1e-9)

	reqs := model.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, opPredict, reqs[0].Op)
	assert.Equal(t, "models/btc.pkl", reqs[0].ModelPath)
}

func TestPredictClampsOutOfRange(t *testing.T) {
	answers := []float64{1.7, -0.2}
	var mu sync.Mutex
	model := &fakeModel{handle: func(req request) *response {
		mu.Lock()
		defer mu.Unlock()
		v := answers[0]
		answers = answers[1:]
		return &response{Probability: v}
	}}
	p := NewWSPredictor(model.serve(t), time.Second, zap.NewNop())
	defer p.Close()

	assert.Equal(t, 1.0, p.Predict(context.Background(), "m", nil))
	assert.Equal(t, 0.0, p.Predict(context.Background(), "m", nil))
}

func TestPredictFallsBackToNeutral(t *testing.T) {
	// unreachable endpoint
	p := NewWSPredictor("ws://127.0.0.1:1/none", 200*time.Millisecond, zap.NewNop())
	assert.Equal(t, Neutral, p.Predict(context.Background(), "m", []float64{1}))

	// service-side error
	model := &fakeModel{handle: func(req request) *response { return &response{Error: "model not found"} }}
	p = NewWSPredictor(model.serve(t), time.Second, zap.NewNop())
	defer p.Close()
	assert.Equal(t, Neutral, p.Predict(context.Background(), "m", []float64{1}))
}

func TestPredictReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	model := &fakeModel{handle: func(req request) *response {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil
		}
		return &response{Probability: 0.7}
	}}
	p := NewWSPredictor(model.serve(t), time.Second, zap.NewNop())
	defer p.Close()

	assert.Equal(t, Neutral, p.Predict(context.Background(), "m", nil))
	assert.InDelta(t, 0.7, p.Predict(context.Background(), "m", nil), 1e-9)
}

func TestPredictTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	model := &fakeModel{handle: func(req request) *response {
		<-block
		return nil
	}}
	p := NewWSPredictor(model.serve(t), 100*time.Millisecond, zap.NewNop())
	defer p.Close()

	start := time.Now()
	assert.Equal(t, Neutral, p.Predict(context.Background(), "m", nil))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTrainSendsParams(t *testing.T) {
	model := &fakeModel{handle: func(req request) *response { return &response{} }}
	p := NewWSPredictor(model.serve(t), time.Second, zap.NewNop())
	defer p.Close()

	err := p.Train(context.Background(), strategy.TrainRequest{
		ModelPath:    "m",
		Features:     [][]float64{{1, 2}, {3, 4}},
		NEstimators:  100,
		MaxDepth:     3,
		LearningRate: 0.1,
	})
	require.NoError(t, err)

	reqs := model.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, opTrain, reqs[0].Op)
	require.NotNil(t, reqs[0].Params)
	assert.Equal(t, 100, reqs[0].Params.NEstimators)

	failing := &fakeModel{handle: func(req request) *response { return &response{Error: "boom"} }}
	p2 := NewWSPredictor(failing.serve(t), time.Second, zap.NewNop())
	defer p2.Close()
	assert.Error(t, p2.Train(context.Background(), strategy.TrainRequest{ModelPath: "m"}))
}
