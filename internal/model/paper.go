package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question types.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Objective reports whether the type can be scored by exact comparison.
// Essays are graded by the external grading service.
func (t QuestionType) Objective() bool {
	return t == QuestionTypeSingleChoice || t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// Question is a single exam question. CorrectAnswer is only populated on
// papers fetched by trusted callers; student-facing payloads omit it.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	QuestionText  string       `json:"question_text"`
	QuestionType  QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer AnswerValue  `json:"correct_answer,omitempty"`
	Score         float64      `json:"score"`
	Difficulty    string       `json:"difficulty,omitempty"`
	OrderNum      int          `json:"order_num"`
}

// ExamPaper is the immutable question set for one exam. It is fetched once
// per session start and never mutated afterwards.
type ExamPaper struct {
	ID              uuid.UUID  `json:"id"`
	ExamID          uuid.UUID  `json:"exam_id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	TotalScore      float64    `json:"total_score"`
	Questions       []Question `json:"questions"`
}

// Duration returns the exam duration as a time.Duration.
func (p *ExamPaper) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// Question looks up a question by id.
func (p *ExamPaper) Question(id uuid.UUID) (*Question, bool) {
	for i := range p.Questions {
		if p.Questions[i].ID == id {
			return &p.Questions[i], true
		}
	}
	return nil, false
}
