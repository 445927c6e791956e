package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	errs "musearchive/pkg/errors"
	"musearchive/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying
type Operation func() error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func() (T, error)

// ExhaustedError reports that a transient failure persisted through all
// configured attempts.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry attempts (%d) exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts
	MaxAttempts int
	// Backoff strategy to use
	Backoff BackoffStrategy
	// RetryIf determines if an error is transient; defaults to IsTransient
	RetryIf func(error) bool
	// Context for cancellation of the inter-attempt wait
	Context context.Context
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns the shared retry policy: five attempts, exponential
// backoff from one second capped at thirty, up to one second of jitter.
func DefaultConfig(log logger.Logger) *Config {
	return &Config{
		MaxAttempts: 5,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     IsTransient,
		Context:     context.Background(),
		Logger:      log,
	}
}

// transientMarkers are substrings that mark an error message as transient
// even when no typed error or status code is available.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporary failure",
	"eof",
}

// IsTransient classifies an error as transient (retry) or deterministic
// (raise immediately). HTTP 5xx and 429 are transient; other 4xx, parse
// errors, and blocked responses are deterministic regardless of status;
// message markers cover untyped network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var typed *errs.Error
	if errors.As(err, &typed) {
		// The kind wins over the status code: a blocked challenge page can
		// arrive as 503 or 429, and retrying it on the same transport only
		// hammers the challenge. Same for the other deterministic kinds.
		switch typed.Kind {
		case errs.KindBlocked, errs.KindParsing, errs.KindInvalidInput,
			errs.KindProfileNotFound, errs.KindRobotsDisallowed:
			return false
		}
		if typed.Code != 0 {
			return errs.IsRetryableStatusCode(typed.Code)
		}
		return errs.IsRetryable(typed.Kind)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// Do executes an operation with retry logic
func Do(op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig(logger.NewNop())
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		lastErr = err

		if !retryIf(err) {
			if cfg.Logger != nil {
				cfg.Logger.DebugWithFields("error is deterministic, not retrying", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Backoff.NextDelay(attempt)

		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.ErrorWithFields("retry attempts exhausted", map[string]interface{}{
			"attempts":   cfg.MaxAttempts,
			"last_error": lastErr.Error(),
		})
	}
	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](op OperationWithResult[T], cfg *Config) (T, error) {
	var result T

	err := Do(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, cfg)

	return result, err
}

// FromPolicy builds a retry configuration from the configured policy
// parameters. Callers rebind Context per call site.
func FromPolicy(maxAttempts int, baseDelay, maxDelay, jitterMax time.Duration, log logger.Logger) *Config {
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff: &ExponentialBackoff{
			BaseDelay: baseDelay,
			MaxDelay:  maxDelay,
			JitterMax: jitterMax,
		},
		RetryIf: IsTransient,
		Context: context.Background(),
		Logger:  log,
	}
}
