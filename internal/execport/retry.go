package execport

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RetryPolicy configures retries of transport failures.
type RetryPolicy struct {
	// MaxRetries is the number of extra attempts. Zero disables retrying.
	MaxRetries int
	RetryDelay time.Duration

	// RetryOn decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	RetryOn func(error) bool
}

// WithRetry wraps p so that Exec, Start and the filesystem helpers are
// retried on transport failures. A zero policy returns p unchanged.
func WithRetry(p Port, policy RetryPolicy, logger *log.Logger) Port {
	if policy.MaxRetries <= 0 {
		return p
	}
	if policy.RetryOn == nil {
		policy.RetryOn = IsRetryable
	}
	if logger == nil {
		logger = log.Default()
	}
	return &retryPort{Port: p, policy: policy, logger: logger}
}

type retryPort struct {
	Port
	policy RetryPolicy
	logger *log.Logger
}

func (r *retryPort) do(ctx context.Context, op string, fn func() error) error {
	maxAttempts := r.policy.MaxRetries + 1
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || attempt == maxAttempts || !r.policy.RetryOn(err) {
			return err
		}

		r.logger.Printf("%s on %s failed (attempt %d/%d): %v", op, r.Name(), attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(r.policy.RetryDelay):
		}
	}
	return err
}

func (r *retryPort) Exec(ctx context.Context, cmd Command) (*Output, error) {
	var out *Output
	err := r.do(ctx, "exec", func() error {
		var err error
		out, err = r.Port.Exec(ctx, cmd)
		return err
	})
	return out, err
}

func (r *retryPort) Start(ctx context.Context, cmd Command) (Handle, error) {
	var h Handle
	err := r.do(ctx, "start", func() error {
		var err error
		h, err = r.Port.Start(ctx, cmd)
		return err
	})
	return h, err
}

func (r *retryPort) MkdirAll(ctx context.Context, dir string) error {
	return r.do(ctx, "mkdir", func() error { return r.Port.MkdirAll(ctx, dir) })
}

func (r *retryPort) RemoveAll(ctx context.Context, dir string) error {
	return r.do(ctx, "remove", func() error { return r.Port.RemoveAll(ctx, dir) })
}

func (r *retryPort) CopyToLocal(ctx context.Context, dir, localDir string) error {
	return r.do(ctx, "copy", func() error { return r.Port.CopyToLocal(ctx, dir, localDir) })
}
