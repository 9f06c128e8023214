package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sadhana/internal/contract"
)

// Code is the category of a service error. Transports map codes to their
// own status values.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeUnsupportedProfile Code = "UNSUPPORTED_PROFILE"
)

// Reasons refine a code.
const (
	ReasonUserNotFound        = "USER_NOT_FOUND"
	ReasonSessionNotFound     = "SESSION_NOT_FOUND"
	ReasonConsentNotFound     = "CONSENT_NOT_FOUND"
	ReasonNoDailyRows         = "NO_DAILY_ROWS"
	ReasonSessionNotActive    = "SESSION_NOT_ACTIVE"
	ReasonSessionAlreadyEnded = "SESSION_ALREADY_ENDED"
	ReasonSessionNotEnded     = "SESSION_NOT_ENDED"
	ReasonSummaryMissing      = "SUMMARY_MISSING"
	ReasonInvalidEventPayload = "INVALID_EVENT_PAYLOAD"
	ReasonInvalidRequest      = "INVALID_REQUEST"
	ReasonInvalidMetrics      = "INVALID_METRICS"
	ReasonInvalidFeatures     = "INVALID_CHUNK_FEATURES"
	ReasonUnknownLineage      = "UNKNOWN_LINEAGE"
	ReasonUnsupportedStage    = "UNSUPPORTED_STAGE"
	ReasonUnsupportedProfile  = "UNSUPPORTED_PROFILE"
)

// FieldError names one rejected input field.
type FieldError = contract.FieldError

// Error is returned by every Service operation that fails for a reason
// the caller can act on. Storage failures are returned wrapped, not as
// Error.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Fields  []FieldError
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.Field + ": " + f.Reason
		}
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return msg
}

func newError(code Code, reason, format string, args ...any) *Error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func notFound(reason, format string, args ...any) *Error {
	return newError(CodeNotFound, reason, format, args...)
}

func conflict(reason, format string, args ...any) *Error {
	return newError(CodeConflict, reason, format, args...)
}

func invalid(reason string, fields []FieldError, format string, args ...any) *Error {
	e := newError(CodeValidationFailed, reason, format, args...)
	e.Fields = fields
	return e
}

// CodeOf returns the code of a service error, or "" for any other error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND service error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a CONFLICT service error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsValidation reports whether err is a VALIDATION_FAILED or
// UNSUPPORTED_PROFILE service error.
func IsValidation(err error) bool {
	code := CodeOf(err)
	return code == CodeValidationFailed || code == CodeUnsupportedProfile
}
