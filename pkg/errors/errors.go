package errors

import "fmt"

// Kind classifies every failure the archiver can surface
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindRobotsDisallowed Kind = "robots_disallowed"
	KindProfileNotFound  Kind = "profile_not_found"
	KindScrapeFailure    Kind = "scrape_failure"
	KindDownloadFailure  Kind = "download_failure"
	KindNetwork          Kind = "network"
	KindRateLimit        Kind = "rate_limit"
	KindParsing          Kind = "parsing"
	KindServerError      Kind = "server_error"
	KindBlocked          Kind = "blocked"
	KindUnknown          Kind = "unknown"
)

// Process exit codes surfaced at the CLI boundary.
const (
	ExitInvalidInput     = 1
	ExitRobotsDisallowed = 2
	ExitProfileNotFound  = 3
	ExitScrapeFailure    = 4
	ExitDownloadFailure  = 5
)

// Error is the archiver's error type. Message is always human-actionable;
// Detail carries optional verbose context shown only at debug level.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Code    int // HTTP status when the error originated from a response
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches verbose detail and returns the error for chaining.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithCode attaches an HTTP status code and returns the error for chaining.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// ExitCode maps an error kind to the stable process exit code. Uncategorized
// errors map to the invalid-input code with their raw message preserved.
func ExitCode(kind Kind) int {
	switch kind {
	case KindRobotsDisallowed:
		return ExitRobotsDisallowed
	case KindProfileNotFound:
		return ExitProfileNotFound
	case KindScrapeFailure, KindParsing:
		return ExitScrapeFailure
	case KindDownloadFailure, KindNetwork, KindRateLimit, KindServerError, KindBlocked:
		return ExitDownloadFailure
	default:
		return ExitInvalidInput
	}
}

// IsRetryable reports whether an error kind represents a transient condition.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRateLimit, KindServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode reports whether an HTTP status code indicates a
// transient failure. 429 is the only retryable 4xx.
func IsRetryableStatusCode(statusCode int) bool {
	switch {
	case statusCode == 0: // network error, no response
		return true
	case statusCode == 429:
		return true
	case statusCode >= 500:
		return true
	default:
		return false
	}
}
