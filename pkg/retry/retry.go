package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAttempts is the number of tries before giving up on a remote write.
	DefaultAttempts = 3
	// DefaultBaseDelay is the wait after the first failure; it doubles on each further failure (1s, 2s, 4s).
	DefaultBaseDelay = time.Second
)

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy runs an operation with bounded exponential backoff.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Sleep     SleepFunc
	Logger    *zap.Logger
}

// New returns the default policy: 3 attempts, 1s/2s/4s backoff.
func New(logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, Sleep: Sleep, Logger: logger}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << (attempt - 1)
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or attempts run out.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
