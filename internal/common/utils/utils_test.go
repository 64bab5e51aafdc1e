package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunWithTimeout(t *testing.T) {
	got, err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("RunWithTimeout() = %v, %v; want 42, nil", got, err)
	}

	_, err = RunWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return 0, nil
	})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunWithTimeout() error = %v, want deadline exceeded", err)
	}
}

func TestGetStackWithError(t *testing.T) {
	if GetStackWithError(nil) != nil {
		t.Error("nil error should stay nil")
	}
	base := errors.New("boom")
	err := GetStackWithError(base)
	if !errors.Is(err, base) || !strings.Contains(err.Error(), "Stack trace:") {
		t.Errorf("GetStackWithError() = %v", err)
	}
}

func TestRecoveredError(t *testing.T) {
	if RecoveredError(nil) != nil {
		t.Error("nil should stay nil")
	}
	base := errors.New("boom")
	if err := RecoveredError(base); !errors.Is(err, base) {
		t.Errorf("RecoveredError(error) = %v", err)
	}
	if err := RecoveredError("index out of range"); err.Error() != "panic: index out of range" {
		t.Errorf("RecoveredError(string) = %v", err)
	}
}
