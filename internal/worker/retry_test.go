package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 50 * time.Millisecond, Max: time.Second}

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 50 * time.Millisecond},
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.failures); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestBackoff_Delay_InitialAboveMax(t *testing.T) {
	b := Backoff{Initial: 2 * time.Second, Max: time.Second}
	if got := b.Delay(1); got != time.Second {
		t.Errorf("Delay(1) = %v, want 1s", got)
	}
}

func TestSleep_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, Backoff{Initial: time.Millisecond, Max: time.Millisecond},
		func(_ context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	want := errors.New("permanent")
	err := Retry(context.Background(), 3, Backoff{Initial: time.Millisecond, Max: time.Millisecond},
		func(context.Context, int) error {
			calls++
			return want
		})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_StopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, Backoff{Initial: time.Hour, Max: time.Hour},
		func(context.Context, int) error {
			calls++
			cancel()
			return errors.New("fail")
		})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
