// Package retry classifies Transport errors and decides whether, and
// when, a task should retry.
package retry

import (
	"fmt"
	"net/http"
)

// Kind is the error taxonomy a failed Transport job is classified into.
type Kind string

const (
	KindNetworkUnavailable Kind = "network_unavailable"
	KindConnectionLost     Kind = "connection_lost"
	KindHTTPTransient      Kind = "http_transient" // 408/429/5xx
	KindHTTPPermanent      Kind = "http_permanent" // other 4xx
	KindValidatorChanged   Kind = "validator_changed"
	KindDiskFull           Kind = "disk_full"
	KindDiskIO             Kind = "disk_io"
	KindInvalidResumeData  Kind = "invalid_resume_data"
	KindCancelled          Kind = "cancelled"
	KindInternalInvariant  Kind = "internal_invariant"
)

// Error wraps an underlying cause with its classified Kind and, for
// HTTP errors, the status code and any Retry-After hint supplied by the
// server.
type Error struct {
	Kind       Kind
	StatusCode int
	RetryAfter string // raw Retry-After header value, if any
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// ClassifyHTTPStatus maps an HTTP status code to its retry Kind.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return KindHTTPTransient
	case status >= 500:
		return KindHTTPTransient
	case status >= 400:
		return KindHTTPPermanent
	default:
		return KindHTTPTransient
	}
}

// UserMessage renders the user-facing message that is the only thing
// allowed to reach DownloadTask.ErrorMessage; raw stack/wire details
// are logged, not persisted.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetworkUnavailable:
		return "network unavailable"
	case KindConnectionLost:
		return "connection lost"
	case KindHTTPTransient, KindHTTPPermanent:
		return fmt.Sprintf("server returned %s", http.StatusText(e.StatusCode))
	case KindValidatorChanged:
		return "resource changed on server"
	case KindDiskFull:
		return "disk full"
	case KindDiskIO:
		return "local write failed"
	case KindInvalidResumeData:
		return "stored resume data was invalid"
	case KindCancelled:
		return "cancelled"
	case KindInternalInvariant:
		return "internal error"
	default:
		return "download failed"
	}
}
