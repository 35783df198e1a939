package log

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"conti/internal/core"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Component: ComponentExpense, Output: &buf}), &buf
}

func TestLoggerAddsComponent(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	logger.Info("expense created", FieldGroupID, "g1")
	out := buf.String()
	if !strings.Contains(out, "component=expense") || !strings.Contains(out, "group_id=g1") {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentWorker).Info("tick")
	if !strings.Contains(buf.String(), "component=worker") {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFields(t *testing.T) {
	e := &core.Expense{ID: "e1", GroupID: "g1", PaidByUserID: "a", SplitType: core.SplitShares, Amount: core.Cents(1234)}
	f := NewFields().WithExpense(e).WithUser("b").WithError(fmt.Errorf("%w: x", core.ErrOverpayment))

	if f[FieldExpenseID] != "e1" || f[FieldAmountCents] != int64(1234) || f[FieldSplitType] != "shares" {
		t.Fatalf("unexpected fields: %v", f)
	}
	if f[FieldErrorType] != ErrorTypeValidation {
		t.Fatalf("error type = %v", f[FieldErrorType])
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatal("ToSlice must flatten key/value pairs")
	}
}

func TestContextLogger(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Fatalf("fallback component = %q", got.Component())
	}
	logger, _ := newBufferLogger(slog.LevelInfo)
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected stored logger")
	}
}

func TestLogErrorLevels(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelDebug)
	ctx := context.Background()

	LogError(ctx, logger, "settle failed", core.ErrOverpayment, OpSettle, nil)
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Fatalf("validation errors log at warn: %s", buf.String())
	}

	buf.Reset()
	LogError(ctx, logger, "settle failed", errors.New("disk I/O error"), OpSettle, NewFields().WithGroup("g1"))
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "error_type=internal_error") {
		t.Fatalf("unexpected output: %s", out)
	}
}
