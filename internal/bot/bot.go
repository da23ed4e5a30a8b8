package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binance-ai-trader-go/internal/metrics"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/supervisor"

	"go.uber.org/zap"
)

// Job names.
const (
	JobOrchestrator = "orchestrator"
	JobExitPrimary  = "exit-primary"
	JobExitFallback = "exit-fallback"
	JobReentry      = "reentry"
	JobPairTick     = "pair-tick"
	JobStatus       = "status"
)

const statusInterval = 30 * time.Second

// Job is a named cycle run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Engine owns the scheduled trading cycles. Each job runs in its own goroutine, once
// immediately and then on every tick; a run never overlaps the previous run of the same job.
type Engine struct {
	jobs        []Job
	isRunning   bool
	mutex       sync.Mutex
	stopChannel chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Register adds a job. Jobs registered after Start are not scheduled.
func (e *Engine) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.jobs = append(e.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Jobs returns the registered jobs.
func (e *Engine) Jobs() []Job {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	out := make([]Job, len(e.jobs))
	copy(out, e.jobs)
	return out
}

func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.isRunning {
		return errors.New("engine already running")
	}
	if len(e.jobs) == 0 {
		return errors.New("no jobs registered")
	}
	for _, job := range e.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %s: interval must be positive", job.Name)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopChannel = make(chan struct{})
	e.isRunning = true
	for _, job := range e.jobs {
		e.wg.Add(1)
		go e.loop(ctx, job)
	}
	e.logger.Info("Engine started", zap.Int("jobs", len(e.jobs)))
	return nil
}

// Stop cancels every job and waits for in-flight runs to return.
func (e *Engine) Stop() {
	e.mutex.Lock()
	if !e.isRunning {
		e.mutex.Unlock()
		return
	}
	e.isRunning = false
	close(e.stopChannel)
	e.cancel()
	e.mutex.Unlock()

	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

func (e *Engine) loop(ctx context.Context, job Job) {
	defer e.wg.Done()

	e.runOnce(ctx, job)
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChannel:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx, job)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			metrics.CycleFailures.WithLabelValues(job.Name).Inc()
			e.logger.Error("Cycle panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.CycleFailures.WithLabelValues(job.Name).Inc()
		e.logger.Error("Cycle failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	e.logger.Debug("Cycle finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}

// Cycles are the components the engine schedules.
type Cycles struct {
	Orchestrator interface {
		Cycle(ctx context.Context) (int, error)
		PairTick(ctx context.Context) ([]models.TradeLog, error)
	}
	Closer interface {
		RunPrimary(ctx context.Context) (supervisor.Stats, error)
		RunFallback(ctx context.Context) (supervisor.Stats, error)
	}
	Reentry interface {
		Run(ctx context.Context) ([]models.TradeLog, error)
	}
	Trades interface {
		OpenTrades() ([]models.TradeLog, error)
	}
}

// RegisterCycles schedules the trading cycles at the configured intervals.
func (e *Engine) RegisterCycles(c Cycles, s models.ScheduleConfig) {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	e.Register(JobExitFallback, seconds(s.FallbackExitSeconds), func(ctx context.Context) error {
		stats, err := c.Closer.RunFallback(ctx)
		e.logStats(JobExitFallback, stats)
		return err
	})
	e.Register(JobExitPrimary, seconds(s.PrimaryExitSeconds), func(ctx context.Context) error {
		stats, err := c.Closer.RunPrimary(ctx)
		e.logStats(JobExitPrimary, stats)
		return err
	})
	e.Register(JobOrchestrator, seconds(s.OrchestratorSeconds), func(ctx context.Context) error {
		failed, err := c.Orchestrator.Cycle(ctx)
		if failed > 0 {
			e.logger.Warn("Orchestration finished with failed users", zap.Int("failed", failed))
		}
		return err
	})
	e.Register(JobPairTick, seconds(s.PairTickSeconds), func(ctx context.Context) error {
		opened, err := c.Orchestrator.PairTick(ctx)
		if len(opened) > 0 {
			e.logger.Info("Pair tick opened trades", zap.Int("opened", len(opened)))
		}
		return err
	})
	e.Register(JobReentry, seconds(s.ReentrySeconds), func(ctx context.Context) error {
		opened, err := c.Reentry.Run(ctx)
		if len(opened) > 0 {
			e.logger.Info("Re-entry opened trades", zap.Int("opened", len(opened)))
		}
		return err
	})
	if c.Trades != nil {
		e.Register(JobStatus, statusInterval, func(context.Context) error {
			return printStatus(c.Trades, e.logger)
		})
	}
}

func (e *Engine) logStats(job string, stats supervisor.Stats) {
	if stats.Closed > 0 || stats.Failed > 0 {
		e.logger.Info("Exit pass",
			zap.String("job", job),
			zap.Int("checked", stats.Checked),
			zap.Int("closed", stats.Closed),
			zap.Int("failed", stats.Failed))
	}
}

// printStatus 打印机器人当前状态
func printStatus(trades interface {
	OpenTrades() ([]models.TradeLog, error)
}, logger *zap.Logger) error {
	open, err := trades.OpenTrades()
	if err != nil {
		return fmt.Errorf("open trades: %w", err)
	}
	logger.Info("Status", zap.Int("openTrades", len(open)))
	for _, t := range open {
		logger.Info("Open trade",
			zap.String("trade", t.ID),
			zap.Int64("user", t.UserID),
			zap.String("symbol", t.Symbol),
			zap.String("entry", t.EntryPrice.String()),
			zap.String("qty", t.Quantity.String()),
			zap.String("tp", t.TakeProfitPrice.String()),
			zap.String("sl", t.StopLossPrice.String()),
			zap.Duration("age", time.Since(t.EntryTime).Round(time.Second)))
	}
	return nil
}
