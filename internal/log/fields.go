package log

import "conti/internal/core"

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldErrorType   = "error_type"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldGroupID     = "group_id"
	FieldExpenseID   = "expense_id"
	FieldUserID      = "user_id"
	FieldPayerID     = "payer_id"
	FieldSplitType   = "split_type"
	FieldAmountCents = "amount_cents"
	FieldSplitCount  = "split_count"
	FieldDebtCount   = "debt_count"
	FieldEventKind   = "event_kind"
	FieldVersion     = "version"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentCLI        = "cli"
	ComponentExpense    = "expense"
	ComponentBalance    = "balance"
	ComponentSettlement = "settlement"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentCache      = "cache"
	ComponentMetrics    = "metrics"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpRead       = "read"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpList       = "list"
	OpSettle     = "settle"
	OpSimplify   = "simplify"
	OpSnapshot   = "snapshot"
	OpInvalidate = "invalidate"
	OpPublish    = "publish"
	OpConsume    = "consume"
	OpValidate   = "validate"
	OpShutdown   = "shutdown"
	OpStartup    = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = core.CategoryValidation
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeForbidden     = core.CategoryForbidden
	ErrorTypeNotFound      = core.CategoryNotFound
	ErrorTypeConflict      = core.CategoryConflict
	ErrorTypeInternal      = core.CategoryInternal
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds the error message and its category
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = core.Category(err)
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithGroup(groupID string) LogFields {
	f[FieldGroupID] = groupID
	return f
}

// WithExpense adds expense-related fields
func (f LogFields) WithExpense(e *core.Expense) LogFields {
	f[FieldGroupID] = e.GroupID
	f[FieldExpenseID] = e.ID
	f[FieldPayerID] = e.PaidByUserID
	f[FieldSplitType] = string(e.SplitType)
	f[FieldAmountCents] = e.Amount.Cents
	f[FieldSplitCount] = len(e.Splits)
	return f
}

func (f LogFields) WithUser(userID string) LogFields {
	f[FieldUserID] = userID
	return f
}

func (f LogFields) WithAmount(m core.Money) LogFields {
	f[FieldAmountCents] = m.Cents
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
