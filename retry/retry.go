// Package retry wraps sandbox operations that fail transiently: backend
// cold starts, gateway hiccups, dropped connections. Fatal errors stop
// the loop immediately.
package retry

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt
	// deadline beyond the caller's context.
	Timeout time.Duration
}

// DefaultConfig suits sandbox provisioning calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Timeout:      30 * time.Second,
}

// transientMarkers are substrings that identify retryable failures from
// providers that only surface string errors.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"502",
	"503",
	"504",
}

// Transient reports whether an error is worth retrying. Context
// cancellation from the caller is never transient; a per-attempt
// deadline is.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Do runs op under the retry policy. Only transient errors are retried;
// anything else aborts the loop and is returned as-is. cleanup, when
// non-nil, runs before each retry so the next attempt starts from a
// clean slate (e.g. terminating a half-created sandbox). The last error
// is returned once attempts are exhausted.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error, cleanup func(ctx context.Context)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	attempt := func() error {
		attemptCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		policy.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxInterval = cfg.MaxDelay
	}
	policy.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1)), ctx)

	notify := func(err error, next time.Duration) {
		log.Printf("retry: attempt failed (%v), retrying in %s", err, next.Round(time.Millisecond))
		if cleanup != nil {
			cleanup(ctx)
		}
	}

	return backoff.RetryNotify(attempt, bo, notify)
}
