// Package retry provides the one bounded polling primitive used wherever the
// client waits for something that may not be there yet (the entry URL on web
// runtimes being the main case).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a poll: at most Attempts calls, Interval apart.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// URLPolling is the default policy for reading the entry URL on web.
// Some mobile browsers expose the location late, so we keep asking for ~2.4s.
var URLPolling = Policy{Attempts: 20, Interval: 120 * time.Millisecond}

var errNotYet = errors.New("retry: not yet")

// Poll calls fn until it reports ok, returns an error, the attempts run out,
// or ctx is done.
//
// An exhausted policy is not an error: Poll returns the zero value and false.
// An error from fn stops polling immediately and is returned as is.
func Poll[T any](ctx context.Context, p Policy, fn func(context.Context) (T, bool, error)) (T, bool, error) {
	var (
		result T
		found  bool
	)

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		v, ok, err := fn(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotYet
		}
		result, found = v, true
		return nil
	}, b)

	if err != nil && !errors.Is(err, errNotYet) {
		var zero T
		return zero, false, err
	}
	return result, found, nil
}
