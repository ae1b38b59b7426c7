package retry

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Decision is what the Scheduler should do in response to a classified
// error.
type Decision struct {
	// Retry is false when the task should transition to failed now.
	Retry bool
	// After is how long to wait before the retry (zero means
	// immediately, e.g. a validator-changed reset).
	After time.Duration
	// ResetOffset requests the Transport restart from byte 0 on the
	// next attempt (validator-changed, first occurrence only).
	ResetOffset bool
	// Message is the user-facing string for DownloadTask.ErrorMessage
	// when Retry is false.
	Message string
}

// Policy implements per-task attempt counting and exponential backoff
// with jitter across the full error-kind table, not just rate limits.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func NewPolicy(maxAttempts int, baseDelay time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Decide classifies err and decides the outcome for a task currently on
// its attempt-th try (1-indexed) having already reset its validator
// validatorResets times.
func (p *Policy) Decide(err *Error, attempt int, validatorResets int) Decision {
	switch err.Kind {
	case KindCancelled:
		return Decision{Retry: false, Message: err.UserMessage()}

	case KindHTTPPermanent, KindDiskFull, KindDiskIO:
		return Decision{Retry: false, Message: err.UserMessage()}

	case KindValidatorChanged:
		if validatorResets < 1 {
			return Decision{Retry: true, ResetOffset: true}
		}
		return Decision{Retry: false, Message: "resource changed"}

	case KindInvalidResumeData:
		// Not retryable as-is; the scheduler restarts the task fresh
		// (offset 0) rather than failing it outright, so this is
		// modeled as an immediate retry with a forced reset.
		return Decision{Retry: true, ResetOffset: true}

	case KindInternalInvariant:
		return Decision{Retry: false, Message: err.UserMessage()}
	}

	if attempt >= p.MaxAttempts {
		return Decision{Retry: false, Message: err.UserMessage()}
	}

	if err.Kind == KindHTTPTransient && retryAfterDuration(err.RetryAfter) > 0 {
		return Decision{Retry: true, After: retryAfterDuration(err.RetryAfter)}
	}

	return Decision{Retry: true, After: p.backoff(attempt)}
}

// backoff computes base_delay * 2^(attempt-1), jittered ±20%.
func (p *Policy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 10 {
		shift = 10 // guard against absurd exponents
	}
	d := p.BaseDelay << shift
	return jitter(d, 0.20)
}

func jitter(d time.Duration, factor float64) time.Duration {
	if d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + delta))
}

// retryAfterDuration parses a Retry-After header value, which may be
// either a delay in seconds or an HTTP-date.
func retryAfterDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
