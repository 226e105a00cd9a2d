package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeParsing represents HTML/JSON extraction errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypePersistence represents listing store and dedup store errors
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeNotification represents delivery channel errors
	ErrorTypeNotification ErrorType = "notification"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// Error is the typed error shared by all components
type Error struct {
	Type      ErrorType
	Component string
	Message   string
	Err       error
	Time      time.Time
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the next cycle can be expected to succeed
// without operator action.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypePersistence, ErrorTypeNotification:
		return true
	case ErrorTypeRateLimit:
		return false
	default:
		return false
	}
}

// New creates a new Error
func New(errType ErrorType, component, message string, err error) *Error {
	return &Error{
		Type:      errType,
		Component: component,
		Message:   message,
		Err:       err,
		Time:      time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(component, message string, err error) *Error {
	return New(ErrorTypeNetwork, component, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(component, message string, err error) *Error {
	return New(ErrorTypeParsing, component, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(component string, duration time.Duration) *Error {
	return New(ErrorTypeRateLimit, component, fmt.Sprintf("rate limited for %v", duration), nil)
}

// NewPersistence creates a new persistence error
func NewPersistence(component, message string, err error) *Error {
	return New(ErrorTypePersistence, component, message, err)
}

// NewNotification creates a new notification error
func NewNotification(component, message string, err error) *Error {
	return New(ErrorTypeNotification, component, message, err)
}

// NewValidation creates a new validation error
func NewValidation(component, message string, err error) *Error {
	return New(ErrorTypeValidation, component, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *Error {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsType reports whether err carries an *Error of the given type anywhere in its chain
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == errType
	}
	return false
}

// IsRetryable reports whether err is an *Error that the next cycle may recover from.
// Untyped errors are treated as retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.IsRetryable()
	}
	return err != nil
}
