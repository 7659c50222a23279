package llm

import (
	"context"
	"io"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for the opt-in retry wrapper.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Notify is called before each backoff sleep so callers can surface
	// retry progress. May be nil.
	Notify func(attempt, maxAttempts int, wait time.Duration)
}

// DefaultRetryConfig returns sensible defaults for rate limit retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient errors.
// Retries only happen before the first part has been forwarded; a stream
// that fails mid-flight cannot be resumed without duplicating output, so
// that error propagates to the caller.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WrapWithRetry wraps a provider with retry logic. The core turn engine
// never retries on its own; callers opt in by wrapping their provider.
func WrapWithRetry(p Provider, config RetryConfig) Provider {
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Stream(ctx context.Context, req Request) (PartStream, error) {
	return newPartStream(ctx, func(ctx context.Context, parts chan<- Part) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			stream, err := r.inner.Stream(ctx, req)
			if err != nil {
				if !isRetryable(err) {
					return err
				}
				lastErr = err
			} else {
				forwarded, err := r.forwardParts(ctx, stream, parts)
				if err == nil {
					return nil
				}
				if forwarded || !isRetryable(err) {
					return err
				}
				lastErr = err
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			wait := r.calculateBackoff(attempt, lastErr)
			if r.config.Notify != nil {
				r.config.Notify(attempt, r.config.MaxAttempts, wait)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		return lastErr
	}), nil
}

// forwardParts relays parts from the inner stream. It reports whether any
// part reached the consumer, which disqualifies the attempt from retry.
func (r *RetryProvider) forwardParts(ctx context.Context, stream PartStream, parts chan<- Part) (bool, error) {
	defer stream.Close()

	forwarded := false
	for {
		part, err := stream.Recv()
		if err == io.EOF {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}
		if part.Kind == PartStreamError && part.Err != nil {
			return forwarded, part.Err
		}

		select {
		case parts <- part:
			forwarded = true
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}

// isRetryable returns true if the error is a transient error worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// HTTP status codes and rate limit messages
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}

	// Connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}

// retryAfterRegex matches Retry-After values in error messages.
var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	// Honor a Retry-After hint embedded in the error message.
	if err != nil {
		if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
			if secs, parseErr := strconv.Atoi(matches[1]); parseErr == nil && secs > 0 {
				wait := time.Duration(secs) * time.Second
				if wait > r.config.MaxBackoff {
					wait = r.config.MaxBackoff
				}
				return wait
			}
		}
	}

	// Exponential backoff: base * 2^(attempt-1)
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))

	// Add jitter: +/- 25%
	jitter := (rand.Float64() - 0.5) * 0.5 * backoff
	backoff += jitter

	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}

	return time.Duration(backoff)
}
