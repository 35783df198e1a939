// Package metrics exposes Prometheus instruments for expense, balance and
// worker activity.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conti/internal/core"
	"conti/internal/log"
)

const namespace = "conti"

var ExpensesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "expense",
	Name:      "created_total",
	Help:      "Expenses created, by split type.",
}, []string{"split_type"})

var ExpensePayments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "expense",
	Name:      "payments_total",
	Help:      "Split payments recorded, by whether the split became fully paid.",
}, []string{"fully_paid"})

var SettlementsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "recorded_total",
	Help:      "Direct settlements recorded between members.",
})

var OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "operation_errors_total",
	Help:      "Failed service operations, by operation and error type.",
}, []string{"operation", "error_type"})

var BalanceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "balance",
	Name:      "cache_lookups_total",
	Help:      "Balance cache lookups, by result.",
}, []string{"result"})

var BalanceComputeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "balance",
	Name:      "compute_seconds",
	Help:      "Time spent aggregating group balances from storage.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
})

var DebtTransfers = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "debts",
	Name:      "transfers",
	Help:      "Number of transfers produced per debt simplification.",
	Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
})

var SnapshotsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "worker",
	Name:      "snapshots_total",
	Help:      "Debt snapshot refreshes, by result.",
}, []string{"result"})

var EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "worker",
	Name:      "events_consumed_total",
	Help:      "Group events handled by the worker, by kind and result.",
}, []string{"kind", "result"})

// Cache lookup results.
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultOK    = "ok"
	ResultError = "error"
	ResultSkip  = "skipped"
)

// ObserveError counts a failed operation under its error category.
func ObserveError(operation string, err error) {
	if err == nil {
		return
	}
	OperationErrors.WithLabelValues(operation, core.Category(err)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	logger = logger.WithComponent(log.ComponentMetrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
