package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRetry(t *testing.T) {
	r := NewRetry(RetryConfig{})
	cfg := r.Config()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %f, want 2.0", cfg.Multiplier)
	}
	if cfg.JitterFraction != 0.5 {
		t.Errorf("JitterFraction = %f, want 0.5", cfg.JitterFraction)
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_KFailuresThenSuccess(t *testing.T) {
	for k := 0; k < 4; k++ {
		r := NewRetry(RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
		})

		attempts := 0
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts <= k {
				return Transient("api", errors.New("connection reset"))
			}
			return nil
		})

		if err != nil {
			t.Errorf("k=%d: Execute() error = %v", k, err)
		}
		if attempts != k+1 {
			t.Errorf("k=%d: attempts = %d, want %d", k, attempts, k+1)
		}
	}
}

func TestRetry_ExhaustedAttempts(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	})

	lastErr := Transient("api", errors.New("still down"))
	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return lastErr
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("error = %v, want it to wrap the last error", err)
	}
	if KindOf(err) != KindTransientConnection {
		t.Errorf("KindOf() = %v, want transient_connection", KindOf(err))
	}
}

func TestRetry_NonRetryablePropagatesImmediately(t *testing.T) {
	tests := []error{
		Validation("api", errors.New("bad prompt")),
		Authentication("api", errors.New("invalid key")),
		Unavailable("api"),
		context.Canceled,
	}

	for _, wantErr := range tests {
		r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond})

		attempts := 0
		err := r.Execute(context.Background(), func(ctx context.Context) error {
			attempts++
			return wantErr
		})

		if attempts != 1 {
			t.Errorf("%v: attempts = %d, want 1", wantErr, attempts)
		}
		if err != wantErr {
			t.Errorf("error = %v, want %v unchanged", err, wantErr)
		}
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	r := NewRetry(RetryConfig{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_RetryIf(t *testing.T) {
	retryableErr := errors.New("retryable")
	nonRetryableErr := errors.New("non-retryable")

	r := NewRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf: func(err error) bool {
			return errors.Is(err, retryableErr)
		},
	})

	attempts := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return retryableErr
		}
		return nonRetryableErr
	})

	if err != nonRetryableErr {
		t.Errorf("error = %v, want nonRetryableErr", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_OnRetry(t *testing.T) {
	var callbacks []int

	r := NewRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			callbacks = append(callbacks, attempt)
		},
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("error")
	})

	if len(callbacks) != 2 || callbacks[0] != 1 || callbacks[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", callbacks)
	}
}

func TestRetry_Delay(t *testing.T) {
	tests := []struct {
		name     string
		config   RetryConfig
		attempts []int
		expected []time.Duration
	}{
		{
			name: "exponential",
			config: RetryConfig{
				InitialDelay:  time.Second,
				MaxDelay:      10 * time.Second,
				Multiplier:    2,
				Strategy:      BackoffExponential,
				DisableJitter: true,
			},
			attempts: []int{1, 2, 3, 4, 5},
			expected: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second},
		},
		{
			name: "linear",
			config: RetryConfig{
				InitialDelay:  100 * time.Millisecond,
				Strategy:      BackoffLinear,
				DisableJitter: true,
			},
			attempts: []int{1, 2, 3},
			expected: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond},
		},
		{
			name: "constant",
			config: RetryConfig{
				InitialDelay:  100 * time.Millisecond,
				Strategy:      BackoffConstant,
				DisableJitter: true,
			},
			attempts: []int{1, 5},
			expected: []time.Duration{100 * time.Millisecond, 100 * time.Millisecond},
		},
		{
			name: "custom backoff",
			config: RetryConfig{
				Backoff: func(attempt int) time.Duration { return time.Duration(attempt) * time.Hour },
			},
			attempts: []int{1, 3},
			expected: []time.Duration{time.Hour, 3 * time.Hour},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(tt.config)
			for i, attempt := range tt.attempts {
				if got := r.Delay(attempt); got != tt.expected[i] {
					t.Errorf("Delay(%d) = %v, want %v", attempt, got, tt.expected[i])
				}
			}
		})
	}
}

func TestRetry_JitterBounds(t *testing.T) {
	r := NewRetry(RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute})

	for _, u := range []float64{0, 0.25, 0.999} {
		r.rand = func() float64 { return u }
		got := r.Delay(2)
		if got < time.Second || got > 2*time.Second {
			t.Errorf("Delay(2) with u=%v = %v, want within [1s, 2s]", u, got)
		}
	}

	r.rand = func() float64 { return 0 }
	if got := r.Delay(1); got != 500*time.Millisecond {
		t.Errorf("Delay(1) at lowest jitter = %v, want 500ms", got)
	}
}

func TestDo(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	v, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", Transient("api", errors.New("reset"))
		}
		return "ok", nil
	})

	if err != nil || v != "ok" {
		t.Errorf("Do() = %q, %v; want ok, nil", v, err)
	}
}
