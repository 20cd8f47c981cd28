// Package retry implements the retry-with-backoff policy shared by ingestion,
// the embedding client, and the network providers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrExhausted is wrapped around the last error when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// maxDelay caps a single backoff step.
const maxDelay = time.Hour

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsRetryable reports whether another attempt could succeed. Permanent errors and
// context cancellation are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base, ... It is the schedule Do sleeps on, for callers that
// reschedule work instead of blocking.
func Backoff(attempt int, base time.Duration) time.Duration {
	b := exponential(base)
	var d time.Duration
	for range max(attempt, 1) {
		d, _ = b.Next()
	}
	return d
}

func exponential(base time.Duration) goretry.Backoff {
	if base <= 0 {
		base = time.Millisecond
	}
	return goretry.WithCappedDuration(maxDelay, goretry.NewExponential(base))
}

// Do runs op up to maxAttempts times, sleeping Backoff(n, baseDelay) between
// attempts. It stops early on success, on a Permanent error, or when ctx is done.
func Do(ctx context.Context, op func(ctx context.Context) error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		lastErr  error
		attempts int
	)
	b := goretry.WithMaxRetries(uint64(maxAttempts-1), exponential(baseDelay))
	err := goretry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		return goretry.RetryableError(err)
	})

	switch {
	case err == nil:
		return nil
	case lastErr == nil:
		return err
	case !IsRetryable(lastErr):
		return lastErr
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// StatusError is a non-2xx response from a network service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Code, e.Body)
}

// FromStatus returns the error for a non-2xx HTTP response. Client errors other
// than 408 and 429 cannot succeed on retry and are marked Permanent.
func FromStatus(service string, code int, body []byte) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	err := &StatusError{Service: service, Code: code, Body: string(body)}
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		return Permanent(err)
	}
	return err
}
