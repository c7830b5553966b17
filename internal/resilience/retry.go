package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultBaseDelay is the first backoff interval when a policy leaves
// BaseDelay unset.
const DefaultBaseDelay = 100 * time.Millisecond

// RetryPolicy bounds how often a recoverable failure is retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first. Zero disables
	// retrying.
	MaxRetries int

	// BaseDelay is the first backoff interval; each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff interval. Zero means uncapped.
	MaxDelay time.Duration
}

// Retryable marks err as worth another attempt under [RetryPolicy.Do]. A nil
// err stays nil.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// Do runs fn until it succeeds, returns an error not wrapped by [Retryable],
// the retry budget is exhausted, or ctx ends. The last error from fn is
// returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(max(p.MaxRetries, 0)), b)
	return retry.Do(ctx, b, fn)
}
