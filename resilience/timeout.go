package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration

	// Resource is attached to the Timeout error.
	Resource string
}

// Timeout wraps operations with a timeout.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Execute runs the operation with a timeout. The call returns when the
// deadline passes even if op ignores its context; op keeps running in the
// background until it notices. A gate slot held by an enclosing Executor
// stays taken until op actually returns.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	release := takeSlot(ctx)
	done := make(chan error, 1)

	go func() {
		err := op(tctx)
		if release != nil {
			release()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && tctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			return t.timeoutError(err)
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.timeoutError(tctx.Err())
	}
}

func (t *Timeout) timeoutError(cause error) error {
	return NewError(KindTimeout, t.config.Resource, fmt.Errorf("after %s: %w", t.config.Timeout, cause))
}

// Config returns the timeout configuration.
func (t *Timeout) Config() TimeoutConfig {
	return t.config
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	t := NewTimeout(TimeoutConfig{Timeout: timeout})
	return t.Execute(ctx, op)
}
