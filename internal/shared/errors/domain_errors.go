package errors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the base interface for all structured errors in the agent
type DomainError interface {
	error

	// Domain returns the domain context (e.g., "fencing", "provider", "config")
	Domain() string

	// Code returns a stable error code used for exit-code mapping and logs
	Code() string

	// Message returns the human-readable message without the cause
	Message() string

	// Retryable indicates if the cluster manager may usefully re-invoke the agent
	Retryable() bool

	// Metadata returns additional error context
	Metadata() map[string]any

	// WithMetadata adds metadata to the error
	WithMetadata(key string, value any) DomainError

	// Timestamp returns when the error occurred
	Timestamp() time.Time
}

// BaseError is the foundational implementation of DomainError
type BaseError struct {
	domain    string
	code      string
	message   string
	cause     error
	retryable bool
	metadata  map[string]any
	timestamp time.Time
}

func (e *BaseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.domain, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.domain, e.code, e.message)
}

func (e *BaseError) Unwrap() error            { return e.cause }
func (e *BaseError) Domain() string           { return e.domain }
func (e *BaseError) Code() string             { return e.code }
func (e *BaseError) Message() string          { return e.message }
func (e *BaseError) Retryable() bool          { return e.retryable }
func (e *BaseError) Metadata() map[string]any { return e.metadata }
func (e *BaseError) Timestamp() time.Time     { return e.timestamp }

// NewBaseError creates a new BaseError with the specified parameters
func NewBaseError(domain, code, message string, retryable bool, cause error, metadata map[string]any) *BaseError {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &BaseError{
		domain:    domain,
		code:      code,
		message:   message,
		cause:     cause,
		retryable: retryable,
		metadata:  metadata,
		timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the error with the key added to its metadata.
// The receiver is left untouched so shared sentinels stay immutable.
func (e *BaseError) WithMetadata(key string, value any) DomainError {
	newMeta := make(map[string]any, len(e.metadata)+1)
	for k, v := range e.metadata {
		newMeta[k] = v
	}
	newMeta[key] = value

	return &BaseError{
		domain:    e.domain,
		code:      e.code,
		message:   e.message,
		cause:     e.cause,
		retryable: e.retryable,
		metadata:  newMeta,
		timestamp: e.timestamp,
	}
}

// Standardized Error Codes
const (
	// Fencing protocol errors
	ErrCodeConfiguration         = "config_error"
	ErrCodeAuthFailed            = "auth_failed"
	ErrCodeNetworkError          = "network_error"
	ErrCodeInvalidTarget         = "invalid_target"
	ErrCodeDuplicateTarget       = "duplicate_target"
	ErrCodeNodeNotFound          = "node_not_found"
	ErrCodeProviderError         = "provider_error"
	ErrCodeUnrecognizedOperation = "unrecognized_operation"

	// Provider binding errors
	ErrCodeRegionNotFound = "region_not_found"
	ErrCodeRateLimit      = "rate_limit_exceeded"
	ErrCodeDecode         = "decode_error"

	// System Errors
	ErrCodeInternal = "internal_error"
)

// Domain Constants
const (
	DomainFencing  = "fencing"
	DomainProvider = "provider"
	DomainConfig   = "config"
	DomainAgent    = "agent"
	DomainSystem   = "system"
)

// Domain-specific error constructors

// NewFencingError creates a standardized fencing engine error
func NewFencingError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainFencing, code, message, retryable, cause, nil)
}

// NewProviderError creates a standardized compute provider error
func NewProviderError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainProvider, code, message, retryable, cause, nil)
}

// NewConfigError creates a standardized configuration error
func NewConfigError(message string, cause error) DomainError {
	return NewBaseError(DomainConfig, ErrCodeConfiguration, message, false, cause, nil)
}

// NewAgentError creates a standardized dispatcher error
func NewAgentError(code, message string, cause error) DomainError {
	return NewBaseError(DomainAgent, code, message, false, cause, nil)
}

// NewSystemError creates a standardized system error
func NewSystemError(code, message string, retryable bool, cause error) DomainError {
	return NewBaseError(DomainSystem, code, message, retryable, cause, nil)
}

// Helper functions for error checking

// AsDomainError finds the first DomainError in the chain
func AsDomainError(err error) (DomainError, bool) {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Retryable()
	}
	return false
}

// GetErrorCode returns the error code if it's a DomainError, otherwise returns "unknown"
func GetErrorCode(err error) string {
	if domainErr, ok := err.(DomainError); ok {
		return domainErr.Code()
	}
	return "unknown"
}

// HasErrorCode checks if an error has a specific error code
func HasErrorCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// IsErrorCode checks if any error in the chain has the specified code
func IsErrorCode(err error, code string) bool {
	for err != nil {
		if HasErrorCode(err, code) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// WrapWithDomain wraps an existing error with domain context
func WrapWithDomain(err error, domain, code, message string, retryable bool) DomainError {
	return NewBaseError(domain, code, message, retryable, err, nil)
}
