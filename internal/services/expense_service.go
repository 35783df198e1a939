package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conti/internal/amqp"
	"conti/internal/balance"
	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/metrics"
	"conti/internal/settlement"
	"conti/internal/split"
	"conti/internal/storage"
)

const DefaultCurrency = "INR"

// GroupExpenseService orchestrates group, expense and settlement writes
// across SQLite, the balance cache and AMQP.
type GroupExpenseService struct {
	storage    *storage.SQLiteRepository
	balances   *BalanceService
	amqpClient *amqp.Client
	logger     *log.Logger
}

func NewGroupExpenseService(storage *storage.SQLiteRepository, balances *BalanceService, amqpClient *amqp.Client, logger *log.Logger) *GroupExpenseService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &GroupExpenseService{
		storage:    storage,
		balances:   balances,
		amqpClient: amqpClient,
		logger:     logger.WithComponent(log.ComponentExpense),
	}
}

type CreateGroupInput struct {
	Name        string
	Description string
	Currency    string
	CreatedBy   string
}

type CreateExpenseInput struct {
	GroupID      string
	Description  string
	Amount       core.Money
	Currency     string // group currency when empty
	PaidByUserID string
	SplitType    core.SplitType
	Participants []core.Participant
	ExpenseDate  time.Time
	CreatedBy    string
}

// UpdateExpenseInput changes only the fields that are set. Splits are
// recalculated when Amount, SplitType or Participants is given.
type UpdateExpenseInput struct {
	Description  *string
	Amount       *core.Money
	SplitType    *core.SplitType
	Participants []core.Participant
	ExpenseDate  *time.Time
}

func (in UpdateExpenseInput) recalculates() bool {
	return in.Amount != nil || in.SplitType != nil || len(in.Participants) > 0
}

type RecordSettlementInput struct {
	GroupID    string
	FromUserID string
	ToUserID   string
	Amount     core.Money
	Notes      string
}

// Groups

func (s *GroupExpenseService) CreateGroup(ctx context.Context, in CreateGroupInput) (core.Group, error) {
	g := core.Group{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Currency:    in.Currency,
		CreatedBy:   in.CreatedBy,
	}
	if g.Currency == "" {
		g.Currency = DefaultCurrency
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, s.fail(ctx, log.OpCreate, "Invalid group", err, log.NewFields().WithUser(in.CreatedBy))
	}
	if g.CreatedBy == "" {
		return core.Group{}, s.fail(ctx, log.OpCreate, "Invalid group", fmt.Errorf("%w: group needs a creator", core.ErrInvalidParticipant), nil)
	}

	err := s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if err := tx.CreateGroup(ctx, &g); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: g.ID, UserID: g.CreatedBy, Action: core.ActionGroupCreated, EntityID: g.ID, Details: g.Name})
	})
	if err != nil {
		return core.Group{}, s.fail(ctx, log.OpCreate, "Failed to create group", err, log.NewFields().WithUser(in.CreatedBy))
	}

	s.logger.InfoContext(ctx, "Group created", log.FieldGroupID, g.ID, log.FieldUserID, g.CreatedBy)
	return g, nil
}

// AddMember lets a group admin add userID as an accepted member.
func (s *GroupExpenseService) AddMember(ctx context.Context, groupID, actorID, userID string, role core.MemberRole) error {
	if role == "" {
		role = core.RoleMember
	}
	actor, _, err := s.requireMember(ctx, groupID, actorID)
	if err != nil {
		return s.fail(ctx, log.OpCreate, "Failed to add member", err, log.NewFields().WithGroup(groupID).WithUser(actorID))
	}
	if actor.Role != core.RoleAdmin {
		err := fmt.Errorf("%w: only admins can add members", core.ErrNotPermitted)
		return s.fail(ctx, log.OpCreate, "Failed to add member", err, log.NewFields().WithGroup(groupID).WithUser(actorID))
	}

	err = s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if err := tx.SaveMember(ctx, core.Member{GroupID: groupID, UserID: userID, Role: role, InviteStatus: core.InviteAccepted}); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: groupID, UserID: actorID, Action: core.ActionMemberAdded, EntityID: userID})
	})
	if err != nil {
		return s.fail(ctx, log.OpCreate, "Failed to add member", err, log.NewFields().WithGroup(groupID).WithUser(userID))
	}
	return nil
}

// LeaveGroup removes userID from the group. The only admin cannot leave, nor
// can anyone who still owes more than a cent.
func (s *GroupExpenseService) LeaveGroup(ctx context.Context, groupID, userID string) error {
	fields := log.NewFields().WithGroup(groupID).WithUser(userID)

	member, members, err := s.requireMember(ctx, groupID, userID)
	if err != nil {
		return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
	}
	if member.Role == core.RoleAdmin {
		admins := 0
		for _, m := range members {
			if m.Role == core.RoleAdmin && m.Active() {
				admins++
			}
		}
		if admins == 1 {
			err := fmt.Errorf("%w: assign another admin before leaving", core.ErrLastAdmin)
			return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
		}
	}

	group, err := s.storage.GetGroup(ctx, groupID)
	if err != nil {
		return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
	}
	balances, err := s.balances.GetGroupBalances(ctx, groupID)
	if err != nil {
		return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
	}
	if owed := balance.UserBalance(balances, userID); owed.Cents < -core.Tolerance.Cents {
		err := fmt.Errorf("%w: you owe %s%s, settle your debts first", core.ErrOutstandingDebt, balance.CurrencySymbol(group.Currency), owed.Abs())
		return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
	}

	err = s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if err := tx.RemoveMember(ctx, groupID, userID); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: groupID, UserID: userID, Action: core.ActionMemberLeft, EntityID: userID})
	})
	if err != nil {
		return s.fail(ctx, log.OpDelete, "Failed to leave group", err, fields)
	}

	s.afterWrite(ctx, groupID, "", amqp.EventMemberLeft)
	return nil
}

func (s *GroupExpenseService) ListMembers(ctx context.Context, groupID string) ([]core.Member, error) {
	if _, err := s.storage.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.storage.ListMembers(ctx, groupID)
}

// Expenses

// CreateExpense validates participants against the group, computes the
// splits and stores the expense with them.
func (s *GroupExpenseService) CreateExpense(ctx context.Context, in CreateExpenseInput) (*core.Expense, error) {
	fields := log.NewFields().WithGroup(in.GroupID).WithUser(in.CreatedBy)

	group, err := s.storage.GetGroup(ctx, in.GroupID)
	if err != nil {
		return nil, s.fail(ctx, log.OpCreate, "Failed to create expense", err, fields)
	}
	_, members, err := s.requireMember(ctx, in.GroupID, in.CreatedBy)
	if err != nil {
		return nil, s.fail(ctx, log.OpCreate, "Failed to create expense", err, fields)
	}

	e := &core.Expense{
		GroupID:      in.GroupID,
		Description:  strings.TrimSpace(in.Description),
		Amount:       in.Amount,
		Currency:     in.Currency,
		PaidByUserID: in.PaidByUserID,
		SplitType:    in.SplitType,
		ExpenseDate:  in.ExpenseDate,
		CreatedBy:    in.CreatedBy,
	}
	if e.Currency == "" {
		e.Currency = group.Currency
	}
	if err := s.prepareSplits(e, in.Participants, members); err != nil {
		return nil, s.fail(ctx, log.OpCreate, "Invalid expense", err, fields.WithExpense(e))
	}

	err = s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if err := tx.CreateExpense(ctx, e); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: e.GroupID, UserID: e.CreatedBy, Action: core.ActionExpenseCreated, EntityID: e.ID, Details: e.Description})
	})
	if err != nil {
		return nil, s.fail(ctx, log.OpCreate, "Failed to create expense", err, fields.WithExpense(e))
	}

	metrics.ExpensesCreated.WithLabelValues(string(e.SplitType)).Inc()
	s.logger.InfoContext(ctx, "Expense created",
		log.FieldGroupID, e.GroupID,
		log.FieldExpenseID, e.ID,
		log.FieldSplitType, e.SplitType,
		log.FieldAmountCents, e.Amount.Cents,
		log.FieldSplitCount, len(e.Splits))

	s.afterWrite(ctx, e.GroupID, e.ID, amqp.EventExpenseCreated)
	return e, nil
}

// UpdateExpense edits an expense that has not received any payment. Only
// its payer or a group admin may edit it.
func (s *GroupExpenseService) UpdateExpense(ctx context.Context, groupID, expenseID, actorID string, in UpdateExpenseInput) (*core.Expense, error) {
	fields := log.NewFields().WithGroup(groupID).WithUser(actorID)
	fields[log.FieldExpenseID] = expenseID

	var updated *core.Expense
	err := s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		e, members, err := s.loadEditable(ctx, tx, groupID, expenseID, actorID)
		if err != nil {
			return err
		}
		if err := settlement.CanEdit(e); err != nil {
			return err
		}

		if in.Description != nil {
			e.Description = strings.TrimSpace(*in.Description)
		}
		if in.ExpenseDate != nil {
			e.ExpenseDate = *in.ExpenseDate
		}
		if in.recalculates() {
			participants := in.Participants
			if len(participants) == 0 {
				participants = participantsFromSplits(e.Splits)
			}
			if in.Amount != nil {
				e.Amount = *in.Amount
			}
			if in.SplitType != nil {
				e.SplitType = *in.SplitType
			}
			if err := s.prepareSplits(e, participants, members); err != nil {
				return err
			}
		} else if err := e.Validate(); err != nil {
			return err
		}

		if err := tx.ReplaceExpense(ctx, e); err != nil {
			return err
		}
		updated = e
		return tx.LogActivity(ctx, core.Activity{GroupID: groupID, UserID: actorID, Action: core.ActionExpenseUpdated, EntityID: e.ID, Details: e.Description})
	})
	if err != nil {
		return nil, s.fail(ctx, log.OpUpdate, "Failed to update expense", err, fields)
	}

	s.logger.InfoContext(ctx, "Expense updated", log.FieldGroupID, groupID, log.FieldExpenseID, expenseID)
	s.afterWrite(ctx, groupID, expenseID, amqp.EventExpenseUpdated)
	return updated, nil
}

// DeleteExpense removes an unsettled expense and its splits.
func (s *GroupExpenseService) DeleteExpense(ctx context.Context, groupID, expenseID, actorID string) error {
	fields := log.NewFields().WithGroup(groupID).WithUser(actorID)
	fields[log.FieldExpenseID] = expenseID

	err := s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		e, _, err := s.loadEditable(ctx, tx, groupID, expenseID, actorID)
		if err != nil {
			return err
		}
		if err := settlement.CanDelete(e); err != nil {
			return err
		}
		if err := tx.DeleteExpense(ctx, groupID, expenseID); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: groupID, UserID: actorID, Action: core.ActionExpenseDeleted, EntityID: expenseID, Details: e.Description})
	})
	if err != nil {
		return s.fail(ctx, log.OpDelete, "Failed to delete expense", err, fields)
	}

	s.logger.InfoContext(ctx, "Expense deleted", log.FieldGroupID, groupID, log.FieldExpenseID, expenseID)
	s.afterWrite(ctx, groupID, expenseID, amqp.EventExpenseDeleted)
	return nil
}

func (s *GroupExpenseService) GetExpense(ctx context.Context, groupID, expenseID string) (*core.Expense, error) {
	return s.storage.GetExpense(ctx, groupID, expenseID)
}

func (s *GroupExpenseService) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	if _, err := s.storage.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.storage.ListExpenses(ctx, groupID)
}

// SettleExpense records a payment towards one split. The read, the
// overpayment check and the write share a transaction.
func (s *GroupExpenseService) SettleExpense(ctx context.Context, groupID, expenseID, actorID string, payment settlement.Payment) (settlement.Result, error) {
	fields := log.NewFields().WithGroup(groupID).WithUser(payment.UserID).WithAmount(payment.Amount)
	fields[log.FieldExpenseID] = expenseID

	var result settlement.Result
	err := s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if _, _, err := s.requireMemberTx(ctx, tx, groupID, actorID); err != nil {
			return err
		}
		e, err := tx.GetExpense(ctx, groupID, expenseID)
		if err != nil {
			return err
		}
		if payment.PaidAt.IsZero() {
			payment.PaidAt = time.Now().UTC()
		}
		result, err = settlement.SettleExpense(e, payment)
		if err != nil {
			return err
		}
		if err := tx.SaveSplitPayment(ctx, *e.SplitFor(payment.UserID)); err != nil {
			return err
		}
		if err := tx.LogActivity(ctx, core.Activity{
			GroupID: groupID, UserID: payment.UserID, Action: core.ActionSplitPaid,
			EntityID: expenseID, Details: payment.Amount.String(),
		}); err != nil {
			return err
		}
		if !result.ExpenseSettled {
			return nil
		}
		if err := tx.SetExpenseSettled(ctx, expenseID, true); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: groupID, UserID: actorID, Action: core.ActionExpenseSettled, EntityID: expenseID})
	})
	if err != nil {
		return settlement.Result{}, s.fail(ctx, log.OpSettle, "Failed to settle expense", err, fields)
	}

	metrics.ExpensePayments.WithLabelValues(fmt.Sprint(result.IsFullyPaid)).Inc()
	s.logger.InfoContext(ctx, "Split payment recorded",
		log.FieldGroupID, groupID,
		log.FieldExpenseID, expenseID,
		log.FieldUserID, payment.UserID,
		log.FieldAmountCents, payment.Amount.Cents,
		"fully_paid", result.IsFullyPaid,
		"expense_settled", result.ExpenseSettled)

	s.afterWrite(ctx, groupID, expenseID, amqp.EventExpenseSettled)
	return result, nil
}

// Settlements

// RecordSettlement stores a direct payment between two members.
func (s *GroupExpenseService) RecordSettlement(ctx context.Context, actorID string, in RecordSettlementInput) (core.Settlement, error) {
	fields := log.NewFields().WithGroup(in.GroupID).WithUser(actorID).WithAmount(in.Amount)

	settle := core.Settlement{
		GroupID:    in.GroupID,
		FromUserID: in.FromUserID,
		ToUserID:   in.ToUserID,
		Amount:     in.Amount,
		Notes:      in.Notes,
	}
	if err := settle.Validate(); err != nil {
		return core.Settlement{}, s.fail(ctx, log.OpCreate, "Invalid settlement", err, fields)
	}

	group, err := s.storage.GetGroup(ctx, in.GroupID)
	if err != nil {
		return core.Settlement{}, s.fail(ctx, log.OpCreate, "Failed to record settlement", err, fields)
	}
	_, members, err := s.requireMember(ctx, in.GroupID, actorID)
	if err != nil {
		return core.Settlement{}, s.fail(ctx, log.OpCreate, "Failed to record settlement", err, fields)
	}
	pv, err := split.ValidateParticipants([]string{in.FromUserID, in.ToUserID}, activeIDs(members))
	if err == nil && !pv.IsValid {
		err = fmt.Errorf("%w: %s", core.ErrNotGroupMember, strings.Join(pv.InvalidUserIDs, ", "))
	}
	if err != nil {
		return core.Settlement{}, s.fail(ctx, log.OpCreate, "Invalid settlement", err, fields)
	}

	err = s.storage.WithTx(ctx, func(tx *storage.SQLiteRepository) error {
		if err := tx.CreateSettlement(ctx, &settle, group.Currency); err != nil {
			return err
		}
		return tx.LogActivity(ctx, core.Activity{GroupID: in.GroupID, UserID: actorID, Action: core.ActionSettlementAdded, EntityID: settle.ID, Details: settle.Amount.String()})
	})
	if err != nil {
		return core.Settlement{}, s.fail(ctx, log.OpCreate, "Failed to record settlement", err, fields)
	}

	metrics.SettlementsRecorded.Inc()
	s.afterWrite(ctx, in.GroupID, "", amqp.EventSettlementRecorded)
	return settle, nil
}

func (s *GroupExpenseService) ListSettlements(ctx context.Context, groupID string) ([]core.Settlement, error) {
	if _, err := s.storage.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.storage.ListSettlements(ctx, groupID)
}

func (s *GroupExpenseService) ListActivity(ctx context.Context, groupID string, limit int) ([]core.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.storage.ListActivity(ctx, groupID, limit)
}

// Helpers

// prepareSplits validates e and its participants, then fills in the
// calculated splits.
func (s *GroupExpenseService) prepareSplits(e *core.Expense, participants []core.Participant, members []core.Member) error {
	if err := e.Validate(); err != nil {
		return err
	}
	memberIDs := activeIDs(members)
	ids := split.ParticipantIDs(participants)
	if e.PaidByUserID != "" {
		if pv, _ := split.ValidateParticipants([]string{e.PaidByUserID}, memberIDs); !pv.IsValid {
			return fmt.Errorf("%w: payer %s", core.ErrNotGroupMember, e.PaidByUserID)
		}
	}
	pv, err := split.ValidateParticipants(ids, memberIDs)
	if err != nil {
		return err
	}
	if !pv.IsValid {
		return fmt.Errorf("%w: %s", core.ErrNotGroupMember, strings.Join(pv.InvalidUserIDs, ", "))
	}

	calculated, err := split.CalculateSplits(e.Amount, e.SplitType, participants, e.PaidByUserID)
	if err != nil {
		return err
	}
	if err := split.ValidateSplits(e.Amount, split.Amounts(calculated)).Err(); err != nil {
		return err
	}

	e.Splits = make([]core.Split, 0, len(calculated))
	for _, c := range calculated {
		e.Splits = append(e.Splits, core.Split{
			UserID:               c.UserID,
			AmountOwed:           c.AmountOwed,
			Percentage:           c.Percentage,
			Shares:               c.Shares,
			CalculatedAmount:     c.CalculatedAmount,
			AdjustmentAmount:     c.AdjustmentAmount,
			IsRoundingAdjustment: c.IsRoundingAdjustment,
		})
	}
	e.HasAdjustments = split.HasAdjustments(calculated)
	return nil
}

// participantsFromSplits turns stored splits back into exact participants.
func participantsFromSplits(splits []core.Split) []core.Participant {
	out := make([]core.Participant, 0, len(splits))
	for _, sp := range splits {
		amount := sp.AmountOwed.Decimal()
		p := core.Participant{UserID: sp.UserID, Amount: &amount}
		if !sp.Percentage.IsZero() {
			pct := sp.Percentage
			p.Percentage = &pct
		}
		if sp.Shares != nil {
			shares := *sp.Shares
			p.Shares = &shares
		}
		out = append(out, p)
	}
	return out
}

func (s *GroupExpenseService) loadEditable(ctx context.Context, tx *storage.SQLiteRepository, groupID, expenseID, actorID string) (*core.Expense, []core.Member, error) {
	actor, members, err := s.requireMemberTx(ctx, tx, groupID, actorID)
	if err != nil {
		return nil, nil, err
	}
	e, err := tx.GetExpense(ctx, groupID, expenseID)
	if err != nil {
		return nil, nil, err
	}
	if e.PaidByUserID != actorID && actor.Role != core.RoleAdmin {
		return nil, nil, fmt.Errorf("%w: only the payer or an admin can change expense %s", core.ErrNotPermitted, expenseID)
	}
	return e, members, nil
}

func (s *GroupExpenseService) requireMember(ctx context.Context, groupID, userID string) (core.Member, []core.Member, error) {
	return s.requireMemberTx(ctx, s.storage, groupID, userID)
}

// requireMemberTx returns userID's accepted membership along with every
// member of the group.
func (s *GroupExpenseService) requireMemberTx(ctx context.Context, repo *storage.SQLiteRepository, groupID, userID string) (core.Member, []core.Member, error) {
	if _, err := repo.GetGroup(ctx, groupID); err != nil {
		return core.Member{}, nil, err
	}
	members, err := repo.ListMembers(ctx, groupID)
	if err != nil {
		return core.Member{}, nil, err
	}
	for _, m := range members {
		if m.UserID == userID && m.Active() {
			return m, members, nil
		}
	}
	return core.Member{}, nil, fmt.Errorf("%w: %s in group %s", core.ErrNotGroupMember, userID, groupID)
}

func activeIDs(members []core.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Active() {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// afterWrite invalidates cached balances and announces the change. Neither
// step fails the committed write.
func (s *GroupExpenseService) afterWrite(ctx context.Context, groupID, expenseID string, kind amqp.EventKind) {
	if s.balances != nil {
		s.balances.Invalidate(ctx, groupID)
	}

	if s.amqpClient == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping group event", log.FieldGroupID, groupID)
		return
	}
	version, err := s.storage.GroupVersion(ctx, groupID)
	if err != nil {
		log.LogError(ctx, s.logger, "Failed to read group version", err, log.OpPublish, log.NewFields().WithGroup(groupID))
		return
	}
	msg := amqp.NewGroupEventMessage(groupID, expenseID, kind, version.Revision)
	if err := s.amqpClient.PublishGroupEvent(ctx, msg); err != nil {
		log.LogError(ctx, s.logger, "Failed to publish group event", err, log.OpPublish,
			log.NewFields().WithGroup(groupID))
	}
}

// fail logs and counts err before handing it back.
func (s *GroupExpenseService) fail(ctx context.Context, op, msg string, err error, fields log.LogFields) error {
	metrics.ObserveError(op, err)
	log.LogError(ctx, s.logger, msg, err, op, fields)
	return err
}

// Close closes storage and AMQP connections.
func (s *GroupExpenseService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %v", errs)
	}
	return nil
}
