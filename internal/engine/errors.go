package engine

import (
	"errors"
	"fmt"

	"github.com/stemsi/examflow/internal/examapi"
)

// Sentinel errors surfaced to callers of the engine.
var (
	// ErrNoActiveSession means the user has no in-progress session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionNotInProgress means the operation needs an IN_PROGRESS
	// session (answering, navigating) but the session has moved on.
	ErrSessionNotInProgress = errors.New("session is not in progress")

	// ErrSubmissionPending means the final submission could not be confirmed
	// within the bounded retries. The session is never discarded in this
	// state; the caller retries with the same idempotency key.
	ErrSubmissionPending = errors.New("submission pending: retries exhausted without confirmation")

	// ErrUnknownQuestion means the question id is not part of the paper.
	ErrUnknownQuestion = errors.New("question is not part of this paper")

	// ErrResultNotReady means no terminal result exists for the session yet.
	ErrResultNotReady = errors.New("result not available yet")
)

// CreationCode classifies why a session could not be created.
type CreationCode string

const (
	CreationNotYetOpen       CreationCode = "NOT_YET_OPEN"
	CreationAlreadyClosed    CreationCode = "ALREADY_CLOSED"
	CreationAlreadySubmitted CreationCode = "ALREADY_SUBMITTED"
)

// SessionCreationError is fatal to starting a session: the exam window has
// not opened, has closed, or the attempt was already submitted.
type SessionCreationError struct {
	Code CreationCode
	err  error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("session creation rejected: %s", e.Code)
}

func (e *SessionCreationError) Unwrap() error { return e.err }

// AsCreationError maps collaborator error codes onto SessionCreationError.
// Returns nil if err is not a creation rejection.
func AsCreationError(err error) *SessionCreationError {
	switch examapi.CodeOf(err) {
	case examapi.CodeNotYetOpen:
		return &SessionCreationError{Code: CreationNotYetOpen, err: err}
	case examapi.CodeAlreadyClosed:
		return &SessionCreationError{Code: CreationAlreadyClosed, err: err}
	case examapi.CodeAlreadySubmitted:
		return &SessionCreationError{Code: CreationAlreadySubmitted, err: err}
	default:
		return nil
	}
}
