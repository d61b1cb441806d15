// Package retry implements bounded exponential backoff for operations that
// hit transient failures (RPC timeouts, dropped connections, mempool races).
package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Policy bounds the retry behavior for one class of operation.
type Policy struct {
	MaxAttempts  int           // Total attempts including the first.
	InitialDelay time.Duration // Delay before the second attempt.
	MaxDelay     time.Duration // Ceiling for the doubled delay.
}

// DefaultPolicy is used for transaction submissions and RPC calls.
var DefaultPolicy = Policy{
	MaxAttempts:  5,
	InitialDelay: 2 * time.Second,
	MaxDelay:     time.Minute,
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do fails immediately instead of retrying.
// Protocol violations and config errors go through here.
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

// Do runs op under the policy, doubling the delay between attempts up to
// MaxDelay. It stops early on context cancellation or a Permanent error.
//
// Parameters:
// - ctx: the context bounding the whole retry loop.
// - logger: the logger for retry attempts.
// - name: the operation name for log context.
// - op: the operation to run.
//
// Returns:
// - error: nil on success, the underlying error on a permanent failure, or
//   the last error wrapped once attempts are exhausted.
func (p Policy) Do(ctx context.Context, logger *logrus.Logger, name string, op func() error) error {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "context cancelled before attempt")
		}

		err := op()
		if err == nil {
			if attempt > 1 {
				logger.WithFields(logrus.Fields{
					"operation": name,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}

		var perr *permanentError
		if errors.As(err, &perr) {
			return perr.err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		logger.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt,
			"delay":     delay.String(),
		}).WithError(err).Warn("Operation failed, retrying")

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "context cancelled during retry")
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return errors.Wrapf(lastErr, "operation %s failed after %d attempts", name, p.MaxAttempts)
}
