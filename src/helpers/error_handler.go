package helpers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-platform/src/logger"

	"github.com/cenkalti/backoff/v5"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type PlatformError struct {
	Message string
	Cause   error
}

func (e *PlatformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PlatformError) Unwrap() error {
	return e.Cause
}

// EmptyDataError: a successful request returned no rows.
type EmptyDataError struct{ PlatformError }

// UnauthorizedError: a credential is missing or was rejected upstream.
type UnauthorizedError struct{ PlatformError }

// RateLimitError: upstream throttling. RetryAfter is zero when unknown.
type RateLimitError struct {
	PlatformError
	RetryAfter time.Duration
}

// ValidationError: a parameter failed schema validation.
type ValidationError struct {
	PlatformError
	Field string
}

// ProviderError: any other upstream failure or malformed payload.
type ProviderError struct {
	PlatformError
	Provider   string
	StatusCode int
}

// UnsupportedCombinationError: no provider, or not the requested one, serves
// the model or parameter. Providers lists the ones that do.
type UnsupportedCombinationError struct {
	PlatformError
	Providers []string
}

type ConfigurationError struct{ PlatformError }

type DatabaseError struct{ PlatformError }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewEmptyDataError(format string, args ...interface{}) *EmptyDataError {
	return &EmptyDataError{PlatformError{Message: fmt.Sprintf(format, args...)}}
}

func NewUnauthorizedError(format string, args ...interface{}) *UnauthorizedError {
	return &UnauthorizedError{PlatformError{Message: fmt.Sprintf(format, args...)}}
}

func NewRateLimitError(retryAfter time.Duration, format string, args ...interface{}) *RateLimitError {
	return &RateLimitError{PlatformError: PlatformError{Message: fmt.Sprintf(format, args...)}, RetryAfter: retryAfter}
}

func NewValidationError(field string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{PlatformError: PlatformError{Message: fmt.Sprintf(format, args...)}, Field: field}
}

func NewProviderError(provider string, status int, cause error, format string, args ...interface{}) *ProviderError {
	return &ProviderError{
		PlatformError: PlatformError{Message: fmt.Sprintf(format, args...), Cause: cause},
		Provider:      provider,
		StatusCode:    status,
	}
}

func NewUnsupportedCombinationError(providers []string, format string, args ...interface{}) *UnsupportedCombinationError {
	msg := fmt.Sprintf(format, args...)
	if len(providers) > 0 {
		msg = fmt.Sprintf("%s. Supported by: %s", msg, strings.Join(providers, ", "))
	}
	return &UnsupportedCombinationError{PlatformError: PlatformError{Message: msg}, Providers: providers}
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// ErrorKind names a member of the error taxonomy.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindEmptyData              ErrorKind = "EmptyData"
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindRateLimited            ErrorKind = "RateLimited"
	KindValidation             ErrorKind = "ValidationError"
	KindProvider               ErrorKind = "ProviderError"
	KindUnsupportedCombination ErrorKind = "UnsupportedCombination"
	KindCancelled              ErrorKind = "Cancelled"
	KindInternal               ErrorKind = "InternalError"
)

// Kind classifies err by walking its wrap chain.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		empty   *EmptyDataError
		unauth  *UnauthorizedError
		limited *RateLimitError
		invalid *ValidationError
		prov    *ProviderError
		unsupp  *UnsupportedCombinationError
	)
	switch {
	case errors.As(err, &empty):
		return KindEmptyData
	case errors.As(err, &unauth):
		return KindUnauthorized
	case errors.As(err, &limited):
		return KindRateLimited
	case errors.As(err, &invalid):
		return KindValidation
	case errors.As(err, &unsupp):
		return KindUnsupportedCombination
	case errors.As(err, &prov):
		return KindProvider
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindInternal
}

// ErrorClass returns the concrete type name used in command log events.
func ErrorClass(err error) string {
	switch Kind(err) {
	case KindEmptyData:
		return "EmptyDataError"
	case KindUnauthorized:
		return "UnauthorizedError"
	case KindRateLimited:
		return "RateLimitError"
	case KindValidation:
		return "ValidationError"
	case KindProvider:
		return "ProviderError"
	case KindUnsupportedCombination:
		return "UnsupportedCombinationError"
	case KindCancelled:
		return "CancelledError"
	case KindNone:
		return ""
	}
	return fmt.Sprintf("%T", err)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryRateLimited runs fn and retries it with exponential backoff while it
// fails with a RateLimitError. Any other error stops immediately.
func RetryRateLimited[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	if maxRetries <= 0 {
		return fn()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	operation := func() (T, error) {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		var limited *RateLimitError
		if !errors.As(err, &limited) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries)+1),
	)
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

type ErrorHandler struct {
	Logger                 *logger.Logger
	ErrorCount             int
	MaxErrorsBeforeRestart int
}

func NewErrorHandler(name string) *ErrorHandler {
	return &ErrorHandler{
		Logger:                 logger.NewLogger(nil, name),
		MaxErrorsBeforeRestart: 10,
	}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.ErrorCount = 0
}

// -----------------------------------------------------------------------------

// Handle logs err and reports whether the restart threshold has been crossed.
func (e *ErrorHandler) Handle(err error, context string) bool {
	if err == nil {
		if e.ErrorCount > 0 {
			e.ErrorCount--
		}
		return false
	}
	e.ErrorCount++
	e.Logger.Error("Error in %s (%s): %v", context, Kind(err), err)
	return e.ErrorCount >= e.MaxErrorsBeforeRestart
}
