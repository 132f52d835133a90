package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_NextDelay(t *testing.T) {
	p := &Policy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := p.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_NextDelay_JitterBounds(t *testing.T) {
	p := &Policy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2.0, Jitter: 0.1}

	for i := 0; i < 50; i++ {
		d := p.NextDelay(1)
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("jittered delay %v outside [0.9s, 1.1s]", d)
		}
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := &Policy{MaxAttempts: 3}

	if !p.ShouldRetry(1) || !p.ShouldRetry(2) {
		t.Error("attempts 1 and 2 should allow retry")
	}
	if p.ShouldRetry(3) {
		t.Error("attempt 3 of 3 should not allow retry")
	}
}

func TestPolicy_Do_EventualSuccess(t *testing.T) {
	p := &Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPolicy_Do_Exhaustion(t *testing.T) {
	p := &Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1.0}

	wantErr := errors.New("still broken")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want last error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPolicy_Do_ContextCancel(t *testing.T) {
	p := &Policy{MaxAttempts: 10, InitialDelay: time.Hour, Multiplier: 1.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(ctx context.Context) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}
