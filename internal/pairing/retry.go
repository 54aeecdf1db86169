package pairing

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/identity"
)

// RetryPolicy bounds repeated handshake attempts. MaxAttempts <= 1 disables retry.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Attempt runs one complete connect-and-pair cycle. attempt starts at 1.
type Attempt func(ctx context.Context, attempt int) (Outcome, error)

// Retriable reports whether err is worth another attempt.
// Protocol failures and local configuration errors are not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if k := KindOf(err); k != 0 {
		return k.Retriable()
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, device.ErrBluetoothOff),
		errors.Is(err, identity.ErrNoSecrets),
		errors.Is(err, ErrBusy):
		return false
	}
	return true
}

// Retry runs fn until it succeeds, fails with a non-retriable error, or the policy is exhausted.
// The machine itself never retries; this is the only place attempts are repeated.
func Retry(ctx context.Context, p RetryPolicy, logger *logrus.Logger, fn Attempt) (Outcome, error) {
	if logger == nil {
		logger = logrus.New()
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)

	var (
		last    Outcome
		attempt int
	)
	op := func() error {
		attempt++
		o, err := fn(ctx, attempt)
		last = o
		if err != nil && !Retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
			"error":   err,
		}).Warn("Pairing attempt failed, retrying")
	}

	err := backoff.RetryNotify(op, b, notify)
	return last, err
}
