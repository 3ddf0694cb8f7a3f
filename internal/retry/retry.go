package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahirjain10/brainscan-workers/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrInvalidAttempts = errors.New("retry: attempts must be > 0")

// Policy bounds a single downstream call.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	// Timeout is the per-attempt deadline. Zero means no extra deadline.
	Timeout time.Duration
	// Retryable decides whether a failure is worth another try.
	// Defaults to IsTransient.
	Retryable func(ctx context.Context, err error) bool
}

// Do runs fn under the policy and returns a record of every attempt. When all
// attempts fail with retryable errors it returns an *ExhaustedError wrapping
// the last failure. Non-retryable failures are returned as is, after the
// first attempt that produced them.
func Do(ctx context.Context, p Policy, call string, fn func(ctx context.Context) error) ([]types.Attempt, error) {
	if p.Attempts <= 0 {
		return nil, ErrInvalidAttempts
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	attempts := make([]types.Attempt, 0, p.Attempts)
	var lastErr error
	for n := 1; n <= p.Attempts; n++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempts, lastErr
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		started := time.Now()
		err := fn(attemptCtx)
		cancel()

		rec := types.Attempt{
			Call:       call,
			Number:     n,
			Success:    err == nil,
			DurationMs: time.Since(started).Milliseconds(),
			StartedAt:  started.UTC(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		attempts = append(attempts, rec)

		if err == nil {
			if n > 1 {
				log.Debug().Str("call", call).Int("attempt", n).Msg("Call succeeded after retry")
			}
			return attempts, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			log.Warn().Err(err).Str("call", call).Int("attempt", n).Msg("Call failed with non-retryable error")
			return attempts, err
		}

		log.Warn().Err(err).Str("call", call).Int("attempt", n).Int("maxAttempts", p.Attempts).Msg("Call failed, will retry")

		if n == p.Attempts {
			break
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, lastErr
		case <-timer.C:
		}
	}

	return attempts, &ExhaustedError{Call: call, Attempts: len(attempts), Err: lastErr}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Call     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Call, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from running out of retries.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}
