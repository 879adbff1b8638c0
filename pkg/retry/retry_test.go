package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/krishnanand20/audiosurvey-ai/pkg/retry"
)

// fastPolicy keeps test backoff pauses negligible.
var fastPolicy = retry.Policy{
	MaxAttempts: 3,
	Initial:     time.Millisecond,
	Max:         2 * time.Millisecond,
	Multiplier:  2,
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Fatalf("calls = %d, want %d", calls, fastPolicy.MaxAttempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		return retry.Permanent(boom)
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("permanent error should not report exhaustion")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry.Do(ctx, fastPolicy, func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestZeroPolicyUsesDefault(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 2, Initial: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
