package provider

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError represents an HTTP error surfaced by a provider transport, kept
// in the shape the teacher's openai client used so status-code
// classification stays familiar.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return "provider api error: status " + itoa(e.StatusCode) + ": " + e.Body
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RetryDefaults are the §4.3 default retry parameters.
var RetryDefaults = RetryPolicy{
	MaxTries:   4,
	BaseMs:     2000,
	MaxMs:      60000,
	Multiplier: 2,
}

// RetryPolicy configures the exponential backoff applied around
// Provider.Start for transient transport errors.
type RetryPolicy struct {
	MaxTries   int
	BaseMs     int64
	MaxMs      int64
	Multiplier float64
}

// newBackOff builds a jittered exponential backoff matching the policy.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Duration(p.BaseMs) * time.Millisecond,
		RandomizationFactor: 0.25,
		Multiplier:          p.Multiplier,
		MaxInterval:         time.Duration(p.MaxMs) * time.Millisecond,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// IsTransient classifies an error as a retryable transport failure: 429,
// 5xx, connection reset/timeout. Anything else (401/403/400, unknown
// errors) is fatal and surfaces immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500 && apiErr.StatusCode < 600:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// retryAfter extracts a server-supplied Retry-After delay, when present.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// StartWithRetry wraps provider.Start with the §4.3 retry policy: transient
// errors are retried until policy.MaxTries attempts in total have been
// made, with exponential backoff,
// honoring a server Retry-After when supplied; fatal errors surface
// immediately.
func StartWithRetry(ctx context.Context, p Provider, req Request, policy RetryPolicy) (Stream, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(policy.newBackOff(), uint64(policy.MaxTries-1)), ctx)

	var stream Stream
	op := func() error {
		s, err := p.Start(ctx, req)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		stream = s
		return nil
	}

	notify := func(err error, wait time.Duration) {
		if delay, ok := retryAfter(err); ok && delay > wait {
			time.Sleep(delay)
		}
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return stream, nil
}
