package errors

import (
	"errors"
	"net/http"
)

// Standard error types
var (
	ErrNotFound          = errors.New("order not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("order already claimed")
	ErrInvalidAssignee   = errors.New("assignee is not an employee")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrInvalidQuantity   = errors.New("invalid item quantity")
	ErrProductNotFound   = errors.New("product not found")
	ErrInternal          = errors.New("internal server error")
	ErrTransientStore    = errors.New("store temporarily unavailable")
	ErrTimeout           = errors.New("timeout")
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrTimeout)
}

// StatusCode maps an error to the HTTP status code it should render as
func StatusCode(err error) int {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrEmptyOrder),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidAssignee):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransientStore), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrUnauthorized, message, http.StatusUnauthorized, false)
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrForbidden, message, http.StatusForbidden, false)
}

// NewInternalError creates an internal server error
func NewInternalError(message string) *AppError {
	return NewAppError(ErrInternal, message, http.StatusInternalServerError, true)
}

// NewTransientStoreError creates a retryable store failure
func NewTransientStoreError(message string) *AppError {
	return NewAppError(ErrTransientStore, message, http.StatusServiceUnavailable, true)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string) *AppError {
	return NewAppError(ErrTimeout, message, http.StatusGatewayTimeout, true)
}
