// Package backoff holds the one retry policy used at the source-adapter
// and state-store boundaries, so call sites never hand-roll retry loops.
package backoff

import (
	"context"
	"time"

	retry "github.com/avast/retry-go/v4"
)

// Policy is a bounded retry with exponential backoff plus random jitter.
// Retryable decides which errors are worth another attempt; a nil
// Retryable retries everything.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	Jitter    time.Duration
	Retryable func(error) bool
}

// Default returns the policy used when the config leaves retry unset.
func Default() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		Jitter:    250 * time.Millisecond,
	}
}

// Do runs op under the policy. The last error is returned unwrapped
// from retry-go's aggregate so errors.Is keeps working for callers.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.BaseDelay),
		retry.MaxJitter(p.Jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	}
	if p.Retryable != nil {
		opts = append(opts, retry.RetryIf(p.Retryable))
	}
	return retry.Do(op, opts...)
}
