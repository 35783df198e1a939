// Package worker keeps persisted debt snapshots in line with group activity,
// driven by AMQP group events with periodic reconciliation as a backstop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/metrics"
	"conti/internal/services"
	"conti/internal/storage"
)

type DebtWorkerConfig struct {
	// Interval between reconciliation passes (default: 10m)
	Interval time.Duration

	// BatchSize caps how many groups are refreshed concurrently (default: 20)
	BatchSize int
}

func DefaultDebtWorkerConfig() DebtWorkerConfig {
	return DebtWorkerConfig{
		Interval:  10 * time.Minute,
		BatchSize: 20,
	}
}

// DebtWorker recomputes simplified debts and stores them as snapshots.
type DebtWorker struct {
	storage  *storage.SQLiteRepository
	balances *services.BalanceService
	config   DebtWorkerConfig
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewDebtWorker(storage *storage.SQLiteRepository, balances *services.BalanceService, config DebtWorkerConfig, logger *log.Logger) *DebtWorker {
	defaults := DefaultDebtWorkerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DebtWorker{
		storage:  storage,
		balances: balances,
		config:   config,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleGroupEvent refreshes the snapshot of the group named in msg.
// Returning an error makes the consumer requeue the message.
func (w *DebtWorker) HandleGroupEvent(ctx context.Context, msg *amqp.GroupEventMessage) error {
	w.logger.InfoContext(ctx, "Processing group event",
		log.FieldGroupID, msg.GroupID,
		log.FieldExpenseID, msg.ExpenseID,
		log.FieldEventKind, msg.Kind,
		log.FieldVersion, msg.Version)

	// The write may have landed on a different process's cache.
	w.balances.Invalidate(ctx, msg.GroupID)

	err := w.RefreshGroup(ctx, msg.GroupID)
	if errors.Is(err, core.ErrGroupNotFound) {
		w.logger.WarnContext(ctx, "Dropping event for unknown group", log.FieldGroupID, msg.GroupID)
		metrics.EventsConsumed.WithLabelValues(string(msg.Kind), metrics.ResultSkip).Inc()
		return nil
	}
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(string(msg.Kind), metrics.ResultError).Inc()
		return fmt.Errorf("refresh debts of %s: %w", msg.GroupID, err)
	}
	metrics.EventsConsumed.WithLabelValues(string(msg.Kind), metrics.ResultOK).Inc()
	return nil
}

// RefreshGroup recomputes and stores the simplified debts of one group.
// The snapshot is labelled with the version read before computing, so a
// write that lands meanwhile leaves it stale rather than wrongly fresh.
func (w *DebtWorker) RefreshGroup(ctx context.Context, groupID string) error {
	version, err := w.storage.GroupVersion(ctx, groupID)
	if err != nil {
		return w.snapshotFailed(ctx, groupID, err)
	}
	debts, err := w.balances.ComputeSimplifiedDebts(ctx, groupID)
	if err != nil {
		return w.snapshotFailed(ctx, groupID, err)
	}

	var stored bool
	err = w.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		var err error
		stored, err = tx.ReplaceDebtSnapshot(ctx, groupID, debts, version, time.Now())
		return err
	})
	if err != nil {
		return w.snapshotFailed(ctx, groupID, err)
	}
	if !stored {
		metrics.SnapshotsWritten.WithLabelValues(metrics.ResultSkip).Inc()
		w.logger.DebugContext(ctx, "Newer debt snapshot already stored",
			log.FieldGroupID, groupID,
			log.FieldVersion, version.Revision)
		return nil
	}

	metrics.SnapshotsWritten.WithLabelValues(metrics.ResultOK).Inc()
	w.logger.DebugContext(ctx, "Debt snapshot stored",
		log.FieldGroupID, groupID,
		log.FieldDebtCount, len(debts),
		log.FieldVersion, version.Revision,
		"expense_count", version.ExpenseCount)
	return nil
}

func (w *DebtWorker) snapshotFailed(ctx context.Context, groupID string, err error) error {
	metrics.SnapshotsWritten.WithLabelValues(metrics.ResultError).Inc()
	log.LogError(ctx, w.logger, "Failed to refresh debt snapshot", err, log.OpSnapshot, log.NewFields().WithGroup(groupID))
	return err
}

// stale reports whether the stored snapshot of groupID is missing or was
// computed at an older revision. Expense edits, deletes and settlements all
// move the revision.
func (w *DebtWorker) stale(ctx context.Context, groupID string) (bool, error) {
	snapshot, found, err := w.storage.GetDebtSnapshot(ctx, groupID)
	if err != nil || !found {
		return true, err
	}
	version, err := w.storage.GroupVersion(ctx, groupID)
	if err != nil {
		return false, err
	}
	return snapshot.Version.Revision != version.Revision, nil
}

// ReconcileSnapshots refreshes every group whose snapshot is missing or out
// of date, returning how many were refreshed. A failing group does not stop
// the others.
func (w *DebtWorker) ReconcileSnapshots(ctx context.Context) (int, error) {
	groupIDs, err := w.storage.ListGroupIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list groups: %w", err)
	}

	var (
		refreshed atomic.Int64
		mu        sync.Mutex
		errs      []error
	)
	var g errgroup.Group
	g.SetLimit(w.config.BatchSize)

	for _, id := range groupIDs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			stale, err := w.stale(ctx, id)
			if err == nil && !stale {
				metrics.SnapshotsWritten.WithLabelValues(metrics.ResultSkip).Inc()
				return nil
			}
			if err == nil {
				err = w.RefreshGroup(ctx, id)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("group %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(refreshed.Load())
	w.logger.InfoContext(ctx, "Debt snapshot reconciliation completed",
		"groups", len(groupIDs),
		"refreshed", n,
		"errors", len(errs))

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}

// Start runs reconciliation immediately and then every Interval until Stop
// is called or ctx ends. Returns an error if already running.
func (w *DebtWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("debt worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.logger.InfoContext(ctx, "Debt worker started",
		"interval", w.config.Interval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the pass in flight to finish.
func (w *DebtWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Debt worker stopped gracefully")
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Debt worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *DebtWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *DebtWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.reconcile(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

func (w *DebtWorker) reconcile(ctx context.Context) {
	if _, err := w.ReconcileSnapshots(ctx); err != nil && ctx.Err() == nil {
		log.LogError(ctx, w.logger, "Debt snapshot reconciliation had failures", err, log.OpSnapshot, nil)
	}
}
