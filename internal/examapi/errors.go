package examapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode is the collaborator's machine-readable error code.
type ErrCode string

const (
	CodeNotYetOpen       ErrCode = "NOT_YET_OPEN"
	CodeAlreadyClosed    ErrCode = "ALREADY_CLOSED"
	CodeAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	CodeNotFound         ErrCode = "NOT_FOUND"
	CodeInternal         ErrCode = "INTERNAL_ERROR"
)

// APIError is a structured error response from the collaborator service.
type APIError struct {
	StatusCode int
	Code       ErrCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exam api: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// CodeOf extracts the collaborator error code from err, or "" if err is not
// an APIError.
func CodeOf(err error) ErrCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsRetryable reports whether err may succeed on retry. Transport failures
// and 5xx verdicts are transient; any 4xx verdict is the collaborator's
// final word and retrying cannot change it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
