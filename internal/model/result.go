package model

import (
	"github.com/google/uuid"
)

// QuestionResult is per-question grading detail. Pending marks essay answers
// awaiting the external grader.
type QuestionResult struct {
	QuestionID uuid.UUID `json:"question_id"`
	Correct    bool      `json:"correct"`
	Score      float64   `json:"score"`
	MaxScore   float64   `json:"max_score"`
	Pending    bool      `json:"pending,omitempty"`
}

// ExamResult is the graded outcome of one session. The authoritative result
// always comes from the grading service; a Provisional result is a local
// optimistic preview and is overwritten when the authoritative one arrives.
type ExamResult struct {
	SessionID        uuid.UUID        `json:"session_id"`
	Score            float64          `json:"score"`
	TotalScore       float64          `json:"total_score"`
	CorrectAnswers   int              `json:"correct_answers"`
	TotalQuestions   int              `json:"total_questions"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
	Provisional      bool             `json:"provisional,omitempty"`
	QuestionResults  []QuestionResult `json:"question_results,omitempty"`
}
