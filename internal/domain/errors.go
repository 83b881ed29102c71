package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies control-plane failures for API mapping.
type ErrorCode string

const (
	CodeDuplicateName         ErrorCode = "DUPLICATE_NAME"
	CodeBadName               ErrorCode = "BAD_NAME"
	CodeUnsupportedVersion    ErrorCode = "UNSUPPORTED_VERSION"
	CodeUnsupportedBranchMode ErrorCode = "UNSUPPORTED_BRANCH_MODE"
	CodeInvalidConfig         ErrorCode = "INVALID_CONFIG"
	CodeConflictingState      ErrorCode = "CONFLICTING_STATE"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	CodePortExhausted         ErrorCode = "PORT_EXHAUSTED"
	CodeRuntimeUnavailable    ErrorCode = "RUNTIME_UNAVAILABLE"
	CodeReadinessTimeout      ErrorCode = "READINESS_TIMEOUT"
	CodeScrapeTimeout         ErrorCode = "SCRAPE_TIMEOUT"
	CodeSlowConsumer          ErrorCode = "SLOW_CONSUMER"
	CodeAuthFailed            ErrorCode = "AUTH_FAILED"
	CodeForbidden             ErrorCode = "FORBIDDEN"
	CodeCryptoTampered        ErrorCode = "CRYPTO_TAMPERED"
	CodeCryptoKeyMissing      ErrorCode = "CRYPTO_KEY_MISSING"
	CodeStoreError            ErrorCode = "STORE_ERROR"
	CodeIOError               ErrorCode = "IO_ERROR"
	CodeOther                 ErrorCode = "OTHER"
)

// Error is the typed failure every service returns across the API boundary.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a typed error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause so errors.Is/As keep working through the chain.
func WrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetail records a field-level detail for validation errors.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the error code, defaulting to OTHER for untyped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeOther
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
