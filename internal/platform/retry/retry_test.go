package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrWithContextSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := ErrWithContext(context.Background(), 3, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestErrWithContextExhaustsTries(t *testing.T) {
	attempts := 0
	wantErr := errors.New("still broken")
	err := ErrWithContext(context.Background(), 4, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestErrWithContextStopsOnPermanent(t *testing.T) {
	attempts := 0
	base := errors.New("missing endpoint keys")
	err := ErrWithContext(context.Background(), 5, func(ctx context.Context) error {
		attempts++
		return Permanent(fmt.Errorf("batch 2: %w", base))
	})
	if attempts != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", attempts)
	}
	if !errors.Is(err, base) {
		t.Fatalf("unwrapped error lost, got %v", err)
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Fatalf("permanent marker should be removed on return")
	}
}

func TestErrWithContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := ErrWithContext(ctx, 10, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt before cancel took effect, got %d", attempts)
	}
}

func TestErrWithContextDefaultsToOneTry(t *testing.T) {
	attempts := 0
	_ = ErrWithContext(context.Background(), 0, func(ctx context.Context) error {
		attempts++
		return errors.New("x")
	})
	if attempts != 1 {
		t.Fatalf("maxTries<=0 should mean one attempt, got %d", attempts)
	}
}
