package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states. Transitions are
// one-directional; no transition leaves a terminal status.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusTimedOut   SessionStatus = "TIMED_OUT"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusTimedOut || s == SessionStatusAbandoned
}

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// ExamSession represents one timed attempt by one user at one exam paper.
type ExamSession struct {
	ID              uuid.UUID     `json:"id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	PaperID         uuid.UUID     `json:"paper_id"`
	UserID          int           `json:"user_id"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds int           `json:"duration_seconds"`
	Status          SessionStatus `json:"status"`
}

// Deadline returns the absolute point in time at which the session expires.
func (s *ExamSession) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// SubmissionPayload is the final submission sent to the grading service.
// It bundles every answer slot, including ones whose autosave never
// completed, so no answer is lost even if autosave never succeeded.
type SubmissionPayload struct {
	SessionID        uuid.UUID    `json:"session_id"`
	Reason           SubmitReason `json:"reason"`
	TimeSpentSeconds int          `json:"time_spent_seconds"`
	Answers          []UserAnswer `json:"answers"`
}
