package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Name: "test"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := RetryConfig{Name: "test", Attempts: 3, InitialBackoff: time.Millisecond}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_AttemptsExhausted(t *testing.T) {
	calls := 0
	cfg := RetryConfig{Name: "test", Attempts: 3, InitialBackoff: time.Millisecond}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want wrapped errTest", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{Name: "test", Attempts: 5, InitialBackoff: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func(ctx context.Context) error {
			calls++
			return errTest
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetry_BackoffGrows(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()
	cfg := RetryConfig{Name: "test", Attempts: 3, InitialBackoff: 20 * time.Millisecond, Multiplier: 4}
	_ = Retry(context.Background(), cfg, func(ctx context.Context) error {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		return errTest
	})

	if len(gaps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(gaps))
	}
	// First gap is call overhead only; second and third include the
	// 20ms and 80ms backoffs.
	if gaps[1] < 20*time.Millisecond {
		t.Errorf("second attempt after %v, want >= 20ms", gaps[1])
	}
	if gaps[2] < 80*time.Millisecond {
		t.Errorf("third attempt after %v, want >= 80ms", gaps[2])
	}
}
