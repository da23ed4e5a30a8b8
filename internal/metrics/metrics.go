// Package metrics holds the Prometheus collectors the trading cycles update.
//
//   - trader_orders_total{side,result}         orders sent to the exchange (result: ok|error)
//   - trader_signals_total{strategy,signal}    strategy evaluations
//   - trader_exits_total{monitor,reason}       trades closed, by monitor and TP/SL reason
//   - trader_cycle_failures_total{cycle}       failed or panicked cycle items
//   - trader_cycle_duration_seconds{cycle}     wall time of one cycle run
//   - trader_open_trades                       open trades seen by the last exit pass
//
// Collectors are registered in init() and served by Serve at /metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Market orders sent, by side and result",
		},
		[]string{"side", "result"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Strategy evaluations, by strategy and signal",
		},
		[]string{"strategy", "signal"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Trades closed, by monitor and reason",
		},
		[]string{"monitor", "reason"},
	)

	CycleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_cycle_failures_total",
			Help: "Failed cycle runs or items",
		},
		[]string{"cycle"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Duration of one cycle run",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"cycle"},
	)

	OpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_trades",
			Help: "Open trades seen by the last exit pass",
		},
	)
)

func init() {
	prometheus.MustRegister(Orders, Signals, Exits)
	prometheus.MustRegister(CycleFailures, CycleDuration, OpenTrades)
}

// OrderResult returns the result label for an order error.
func OrderResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}
