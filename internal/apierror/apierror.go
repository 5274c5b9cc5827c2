package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrValidation         ErrorCode = "VALIDATION"
	ErrTransient          ErrorCode = "TRANSIENT"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrUnexpectedScenario ErrorCode = "UNEXPECTED_SCENARIO"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause when Details carries an error.
func (e APIError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.WithField("code", code).Debug(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// FromHTTPStatus maps a store or provider HTTP status to an APIError.
// 5xx, 429 and 409 are transient and will be retried by the next run.
func FromHTTPStatus(status int, message string, details interface{}) APIError {
	switch {
	case status == http.StatusNotFound:
		return NewAPIError(ErrNotFound, message, details)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAPIError(ErrUnauthorized, message, details)
	case status == http.StatusTooManyRequests || status == http.StatusConflict || status >= 500:
		return NewAPIError(ErrTransient, message, details)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewAPIError(ErrValidation, message, details)
	default:
		return NewAPIError(ErrInternalServer, message, details)
	}
}

// CodeOf returns the code of the first APIError in err's chain. Network
// timeouts and context deadlines are reported as transient.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTransient
	}
	return ErrInternalServer
}

func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether err should simply be left for the next run.
func IsTransient(err error) bool {
	return Is(err, ErrTransient)
}
