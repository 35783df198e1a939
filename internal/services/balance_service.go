package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"conti/internal/balance"
	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/debts"
	"conti/internal/log"
	"conti/internal/metrics"
	"conti/internal/storage"
)

// BalanceService answers balance and debt questions for a group. Expense
// balances are memoized per group version; direct settlements are folded in
// on every read. Simplified debts come from the stored snapshot while it is
// at the group's current revision.
type BalanceService struct {
	storage *storage.SQLiteRepository
	cache   cache.BalanceCache
	flight  singleflight.Group
	logger  *log.Logger
}

func NewBalanceService(storage *storage.SQLiteRepository, balanceCache cache.BalanceCache, logger *log.Logger) *BalanceService {
	if balanceCache == nil {
		balanceCache = cache.NopBalanceCache{}
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &BalanceService{
		storage: storage,
		cache:   balanceCache,
		logger:  logger.WithComponent(log.ComponentBalance),
	}
}

// GetGroupBalances returns every member's net position, settlements included.
func (s *BalanceService) GetGroupBalances(ctx context.Context, groupID string) (*core.Balances, error) {
	expenseBalances, err := s.expenseBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	settlements, err := s.storage.ListSettlements(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return balance.ApplySettlements(expenseBalances, settlements), nil
}

func (s *BalanceService) expenseBalances(ctx context.Context, groupID string) (*core.Balances, error) {
	// The version is read before the rows, so a result is never labelled
	// newer than the data it was computed from.
	version, err := s.storage.GroupVersion(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(ctx, groupID, version); ok {
		metrics.BalanceCacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		return cached, nil
	}
	metrics.BalanceCacheLookups.WithLabelValues(metrics.ResultMiss).Inc()

	key := fmt.Sprintf("%s:%d:%d", groupID, version.ExpenseCount, version.Revision)
	v, err, shared := s.flight.Do(key, func() (any, error) {
		start := time.Now()
		rows, err := s.storage.ListBalanceRows(ctx, groupID)
		if err != nil {
			return nil, err
		}
		computed, err := balance.CalculateGroupBalancesFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("aggregate balances of %s: %w", groupID, err)
		}
		metrics.BalanceComputeSeconds.Observe(time.Since(start).Seconds())
		s.cache.Set(ctx, groupID, version, computed)
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "Shared balance computation", log.FieldGroupID, groupID)
	}
	// Callers may mutate what they get back.
	return v.(*core.Balances).Clone(), nil
}

// Invalidate drops the cached balances of a group. Failures are logged only.
func (s *BalanceService) Invalidate(ctx context.Context, groupID string) {
	if err := s.cache.Invalidate(ctx, groupID); err != nil {
		log.LogError(ctx, s.logger, "Balance cache invalidation failed", err, log.OpInvalidate,
			log.NewFields().WithGroup(groupID))
	}
}

// GetUserBalance returns userID's net balance in the group and how to show it.
func (s *BalanceService) GetUserBalance(ctx context.Context, groupID, userID string) (core.Money, balance.FormattedBalance, error) {
	group, err := s.storage.GetGroup(ctx, groupID)
	if err != nil {
		return core.Money{}, balance.FormattedBalance{}, err
	}
	balances, err := s.GetGroupBalances(ctx, groupID)
	if err != nil {
		return core.Money{}, balance.FormattedBalance{}, err
	}
	b := balance.UserBalance(balances, userID)
	return b, balance.FormatBalance(b, group.Currency), nil
}

// GetSimplifiedDebts returns the transfers that settle the group. A debt
// snapshot at the current revision is served as is; otherwise the debts are
// recomputed.
func (s *BalanceService) GetSimplifiedDebts(ctx context.Context, groupID string) ([]core.SimplifiedDebt, error) {
	version, err := s.storage.GroupVersion(ctx, groupID)
	if err != nil {
		return nil, err
	}
	view, found, err := s.storage.GetDebtSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if found && view.Version.Revision == version.Revision {
		s.logger.DebugContext(ctx, "Serving debt snapshot",
			log.FieldGroupID, groupID, log.FieldDebtCount, len(view.Debts))
		return view.Debts, nil
	}
	return s.ComputeSimplifiedDebts(ctx, groupID)
}

// ComputeSimplifiedDebts recomputes the transfers from balances, ignoring any
// stored snapshot.
func (s *BalanceService) ComputeSimplifiedDebts(ctx context.Context, groupID string) ([]core.SimplifiedDebt, error) {
	balances, err := s.GetGroupBalances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	result := debts.SimplifyDebts(balances)
	metrics.DebtTransfers.Observe(float64(len(result)))

	if !debts.ValidateSimplifiedDebts(balances, result) {
		// Happens when an expense has no payer or splits do not cover it.
		s.logger.WarnContext(ctx, "Simplified debts do not reproduce balances",
			log.FieldGroupID, groupID, log.FieldDebtCount, len(result))
	}
	return result, nil
}

// GetDebtsFor splits the group's simplified debts into what userID owes and
// what is owed to them.
func (s *BalanceService) GetDebtsFor(ctx context.Context, groupID, userID string) (owes, owed []core.SimplifiedDebt, err error) {
	all, err := s.GetSimplifiedDebts(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	owes, owed = debts.DebtsFor(all, userID)
	return owes, owed, nil
}

// GetStatistics summarizes the group's spending from userID's point of view.
func (s *BalanceService) GetStatistics(ctx context.Context, groupID, userID string) (core.GroupStatistics, error) {
	expenses, err := s.storage.ListExpenses(ctx, groupID)
	if err != nil {
		return core.GroupStatistics{}, err
	}
	balances, err := s.GetGroupBalances(ctx, groupID)
	if err != nil {
		return core.GroupStatistics{}, err
	}
	return balance.Statistics(expenses, balances, userID), nil
}

// GetExpenseBalances shows each expense from userID's perspective.
func (s *BalanceService) GetExpenseBalances(ctx context.Context, groupID, userID string) ([]balance.UserExpenseBalance, error) {
	expenses, err := s.storage.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]balance.UserExpenseBalance, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, balance.CalculateUserExpenseBalance(e, userID))
	}
	return out, nil
}
