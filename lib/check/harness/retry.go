package harness

import (
	"context"
	"time"

	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/cockroachdb/errors"
)

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = 500 * time.Millisecond
)

// retryable reports whether a store error may go away by trying again
func retryable(err error) bool {
	return store.IsCode(err, store.RetCInternalError) || store.IsCode(err, store.RetCTimeout)
}

// retry calls fn until it succeeds, fails with an error that is not
// retryable, or the timeout elapses. fn is told whether it runs as a retry,
// since a failed attempt may still have been applied by the store.
func retry(ctx context.Context, timeout time.Duration, fn func(retrying bool) error) error {
	deadline := time.Now().Add(timeout)
	backoff := minBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt > 1)
		if err == nil || !retryable(err) {
			return err
		}
		if time.Now().Add(backoff).After(deadline) {
			return errors.Wrapf(err, "giving up after %d attempts", attempt)
		}

		Logger.Debugf("attempt %d failed, retrying in %s: %v", attempt, backoff, err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithSecondaryError(ctx.Err(), err)
		case <-timer.C:
		}
		backoff = min(2*backoff, maxBackoff)
	}
}
