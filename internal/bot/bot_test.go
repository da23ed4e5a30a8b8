package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEngineRunsImmediatelyAndOnTicks(t *testing.T) {
	e := NewEngine(zap.NewNop())
	var runs atomic.Int32
	e.Register("tick", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngineSurvivesPanicsAndErrors(t *testing.T) {
	e := NewEngine(zap.NewNop())
	var panics, fails atomic.Int32
	e.Register("panics", 10*time.Millisecond, func(context.Context) error {
		panics.Add(1)
		panic("boom")
	})
	e.Register("fails", 10*time.Millisecond, func(context.Context) error {
		fails.Add(1)
		return errors.New("exchange down")
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.Eventually(t, func() bool { return panics.Load() >= 3 && fails.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestEngineNeverOverlapsAJob(t *testing.T) {
	e := NewEngine(zap.NewNop())
	var active, maxActive, runs atomic.Int32
	e.Register("slow", 5*time.Millisecond, func(context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		runs.Add(1)
		return nil
	})
	require.NoError(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestEngineStopWaitsAndCancels(t *testing.T) {
	e := NewEngine(zap.NewNop())
	started := make(chan struct{})
	var cancelled atomic.Bool
	e.Register("blocking", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, e.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not start")
	}
	e.Stop()
	assert.True(t, cancelled.Load())

	// stopping twice is harmless
	e.Stop()
}

func TestEngineStartValidation(t *testing.T) {
	e := NewEngine(zap.NewNop())
	assert.Error(t, e.Start(context.Background()))

	e.Register("bad", 0, func(context.Context) error { return nil })
	assert.Error(t, e.Start(context.Background()))

	ok := NewEngine(zap.NewNop())
	ok.Register("fine", time.Hour, func(context.Context) error { return nil })
	require.NoError(t, ok.Start(context.Background()))
	assert.Error(t, ok.Start(context.Background()))
	ok.Stop()
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[name]++
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *recorder) Cycle(context.Context) (int, error) {
	r.hit(JobOrchestrator)
	return 0, nil
}

func (r *recorder) PairTick(context.Context) ([]models.TradeLog, error) {
	r.hit(JobPairTick)
	return nil, nil
}

func (r *recorder) RunPrimary(context.Context) (supervisor.Stats, error) {
	r.hit(JobExitPrimary)
	return supervisor.Stats{}, nil
}

func (r *recorder) RunFallback(context.Context) (supervisor.Stats, error) {
	r.hit(JobExitFallback)
	return supervisor.Stats{}, nil
}

func (r *recorder) Run(context.Context) ([]models.TradeLog, error) {
	r.hit(JobReentry)
	return nil, nil
}

func (r *recorder) OpenTrades() ([]models.TradeLog, error) {
	r.hit(JobStatus)
	return []models.TradeLog{{ID: "t1", Symbol: "BTCUSDT"}}, nil
}

func TestRegisterCycles(t *testing.T) {
	r := &recorder{}
	e := NewEngine(zap.NewNop())
	e.RegisterCycles(Cycles{Orchestrator: r, Closer: r, Reentry: r, Trades: r}, models.ScheduleConfig{
		OrchestratorSeconds: 3600,
		PrimaryExitSeconds:  30,
		FallbackExitSeconds: 15,
		ReentrySeconds:      300,
		PairTickSeconds:     5,
	})

	intervals := map[string]time.Duration{}
	for _, j := range e.Jobs() {
		intervals[j.Name] = j.Interval
	}
	assert.Equal(t, map[string]time.Duration{
		JobOrchestrator: time.Hour,
		JobExitPrimary:  30 * time.Second,
		JobExitFallback: 15 * time.Second,
		JobReentry:      5 * time.Minute,
		JobPairTick:     5 * time.Second,
		JobStatus:       statusInterval,
	}, intervals)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	for _, name := range []string{JobOrchestrator, JobExitPrimary, JobExitFallback, JobReentry, JobPairTick, JobStatus} {
		name := name
		assert.Eventually(t, func() bool { return r.count(name) == 1 }, time.Second, 5*time.Millisecond, name)
	}
}
