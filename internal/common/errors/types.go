package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfig represents configuration errors (missing client credentials etc.)
	ErrTypeConfig ErrorType = "config"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInvalidState represents a rejected OAuth state parameter (CSRF/replay)
	ErrTypeInvalidState ErrorType = "invalid_state"
	// ErrTypeTokenExchange represents a provider-rejected authorization code
	ErrTypeTokenExchange ErrorType = "token_exchange"
	// ErrTypeReauthorization represents an unrecoverable token: the tenant must reconnect
	ErrTypeReauthorization ErrorType = "reauthorization_required"
	// ErrTypeRateLimited represents an exhausted rate-limit retry budget
	ErrTypeRateLimited ErrorType = "rate_limited"
	// ErrTypeGateway represents a generic non-2xx provider response
	ErrTypeGateway ErrorType = "gateway"
	// ErrTypeStorage represents a persistence failure that must not be swallowed
	ErrTypeStorage ErrorType = "storage"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConnection represents connection-level failures
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error. Context carries
// platform/scope/status-code detail for tenant-facing messages; token
// material must never be placed in Context or Message.
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code (e.g. the provider's raw OAuth error code)
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithPlatform tags the error with the platform and scope it belongs to
func (e *AppError) WithPlatform(platform, scope string) *AppError {
	e.WithContext("platform", platform)
	if scope != "" {
		e.WithContext("scope", scope)
	}
	return e
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// InvalidStateError creates an error for a missing, mismatched or expired
// OAuth state parameter. The in-flight authorization attempt must be aborted.
func InvalidStateError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeInvalidState,
		Message: msg,
	}
}

// TokenExchangeError creates an error for a provider-rejected code or refresh
// grant. The provider's raw error body is kept for diagnostics.
func TokenExchangeError(msg string, providerBody string) *AppError {
	e := &AppError{
		Type:    ErrTypeTokenExchange,
		Message: msg,
	}
	if providerBody != "" {
		e.WithContext("provider_error", providerBody)
	}
	return e
}

// ReauthorizationError creates an error signalling that no valid token can be
// obtained without the tenant reconnecting the platform. Fatal for the calling
// request, not for the process.
func ReauthorizationError(platform, scope string) *AppError {
	e := &AppError{
		Type:    ErrTypeReauthorization,
		Message: fmt.Sprintf("platform %s requires reauthorization", platform),
	}
	return e.WithPlatform(platform, scope)
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimited,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// GatewayError creates an error for a non-2xx provider response, carrying the
// status code and the provider's response body.
func GatewayError(platform string, statusCode int, body string) *AppError {
	e := &AppError{
		Type:    ErrTypeGateway,
		Message: fmt.Sprintf("platform %s returned HTTP %d", platform, statusCode),
	}
	e.WithContext("status_code", statusCode)
	if body != "" {
		e.WithContext("provider_body", body)
	}
	return e.WithContext("platform", platform)
}

// StorageError creates a new storage error
func StorageError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStorage,
		Message: msg,
		Cause:   cause,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// As is a convenience re-export of the standard library's errors.As so
// callers don't need a second errors import.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsType checks if an error is of a specific type, unwrapping as needed
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
