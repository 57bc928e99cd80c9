package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxRetries is the number of attempts after the first one
const maxRetries = 2

// retryInitialInterval is the first backoff delay, doubled on every retry
var retryInitialInterval = 250 * time.Millisecond

// statusError is a non-200 answer from an upstream API
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Code, e.Body)
}

// retryable is true for rate limiting and server-side failures
func (e *statusError) retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// withRetry runs op until it succeeds, fails permanently, runs out of
// retries or ctx is done. Only retryable status errors are retried.
func withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryInitialInterval
	exp.Multiplier = 2
	exp.MaxInterval = 4 * time.Second
	exp.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(exp, maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
