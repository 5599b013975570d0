package common

import (
	"errors"
	"fmt"
	"time"
)

// Error codes carried by AppError.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeCredentialAcquisition = "CREDENTIAL_ACQUISITION_ERROR"
	CodeTransfer              = "TRANSFER_ERROR"
	CodeRegistration          = "REGISTRATION_ERROR"
	CodePoll                  = "POLL_ERROR"
	CodeConfig                = "CONFIG_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	// Status is the HTTP status returned by a collaborator, 0 when the failure was local.
	Status     int
	RetryAfter time.Duration
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel registered for the error's code.
func (e *AppError) Is(target error) bool {
	if s, ok := codeSentinels[e.Code]; ok {
		return s == target
	}
	return false
}

// Common application errors
var (
	ErrNotFound              = errors.New("resource not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrValidation            = errors.New("validation failed")
	ErrCredentialAcquisition = errors.New("credential acquisition failed")
	ErrTransfer              = errors.New("transfer failed")
	ErrRegistration          = errors.New("registration failed")
	ErrPoll                  = errors.New("poll failed")
	ErrConfig                = errors.New("invalid configuration")
)

var codeSentinels = map[string]error{
	CodeValidation:            ErrValidation,
	CodeCredentialAcquisition: ErrCredentialAcquisition,
	CodeTransfer:              ErrTransfer,
	CodeRegistration:          ErrRegistration,
	CodePoll:                  ErrPoll,
	CodeConfig:                ErrConfig,
	CodeUnauthorized:          ErrUnauthorized,
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithStatus records the collaborator's HTTP status on the error.
func (e *AppError) WithStatus(status int, retryAfter time.Duration) *AppError {
	e.Status = status
	e.RetryAfter = retryAfter
	return e
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// UserMessage returns the single actionable message for an error chain.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.RetryAfter > 0 {
			msg = fmt.Sprintf("%s (try again in %s)", msg, ae.RetryAfter.Round(time.Second))
		}
		return msg
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return "Something went wrong"
}

// IsRetryable reports whether the collaborator signalled a temporary condition
// (rate limit or service unavailable). Callers decide whether to resubmit.
func IsRetryable(err error) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Status {
	case 429, 502, 503, 504:
		return true
	}
	return false
}
