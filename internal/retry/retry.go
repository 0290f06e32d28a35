package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration // base delay, doubled after every failed attempt
	MaxDelay    time.Duration // 0 = Delay << (MaxAttempts-1)
}

// permanentError marks a failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so WithRetry returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithRetry runs fn until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. The last error is returned as is.
func WithRetry(ctx context.Context, config RetryConfig, log logrus.FieldLogger, fn func(ctx context.Context) error) error {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	builder := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !IsPermanent(err) && ctx.Err() == nil
		}).
		WithMaxAttempts(attempts).
		ReturnLastFailure()

	if config.Delay > 0 {
		maxDelay := config.MaxDelay
		if maxDelay <= 0 {
			maxDelay = config.Delay << (attempts - 1)
		}
		if maxDelay > config.Delay {
			builder = builder.WithBackoff(config.Delay, maxDelay)
		} else {
			builder = builder.WithDelay(config.Delay)
		}
	}

	if log != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.WithFields(logrus.Fields{
				"attempt": e.Attempts(),
				"error":   e.LastError(),
			}).Warn("retrying after failure")
		})
	}

	return failsafe.With[any](builder.Build()).WithContext(ctx).Run(func() error {
		return fn(ctx)
	})
}

// RetryableStatus reports whether an HTTP status belongs to the transient class:
// server errors, overload and request timeouts.
func RetryableStatus(code int) bool {
	return code >= 500 || code == 429 || code == 408
}
