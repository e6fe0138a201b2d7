package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the catalog.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Federation error codes
const (
	ErrNoSources          ErrorCode = "NO_SOURCES"
	ErrSourceNotFound     ErrorCode = "SOURCE_NOT_FOUND"
	ErrSourceUnavailable  ErrorCode = "SOURCE_UNAVAILABLE"
	ErrSourceQueryFailed  ErrorCode = "SOURCE_QUERY_FAILED"
	ErrIngestNotSupported ErrorCode = "INGEST_NOT_SUPPORTED"
)

// Storage error codes
const (
	ErrCacheMiss     ErrorCode = "CACHE_MISS"
	ErrStorageFailed ErrorCode = "STORAGE_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Source     string    `json:"source,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSource sets the id of the source the error relates to.
func (e *Error) WithSource(sourceID string) *Error {
	e.Source = sourceID
	return e
}

// AsError unwraps err into *Error if anything in its chain is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewInvalidRequestError 创建参数错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewNoSourcesError 创建"无可查询数据源"错误，这是联邦查询唯一向调用方抛出的错误类别
func NewNoSourcesError() *Error {
	return NewError(ErrNoSources, "federation requires at least one source").
		WithHTTPStatus(http.StatusBadRequest)
}

// NewSourceNotFoundError 创建数据源不存在错误
func NewSourceNotFoundError(sourceID string) *Error {
	return NewError(ErrSourceNotFound, "source not found: "+sourceID).
		WithHTTPStatus(http.StatusNotFound).
		WithSource(sourceID)
}

// NewSourceUnavailableError 创建数据源不可用错误
func NewSourceUnavailableError(sourceID string) *Error {
	return NewError(ErrSourceUnavailable, "source unavailable: "+sourceID).
		WithHTTPStatus(http.StatusServiceUnavailable).
		WithRetryable(true).
		WithSource(sourceID)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string) *Error {
	return NewError(ErrTimeout, message).
		WithHTTPStatus(http.StatusGatewayTimeout).
		WithRetryable(true)
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *Error {
	return NewError(ErrInternalError, message).WithHTTPStatus(http.StatusInternalServerError)
}
