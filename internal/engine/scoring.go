package engine

import (
	"github.com/google/uuid"
	"github.com/stemsi/examflow/internal/model"
)

// ProvisionalResult grades a submission client-side for optimistic display.
// Objective types score by exact comparison: single choice and true/false by
// string equality, multiple choice by exact-set equality (partial credit is
// the grading service's business, not ours). Essays are passed through
// unscored and marked pending.
//
// The result is explicitly Provisional; the authoritative ExamResult always
// comes from the grading service and overwrites this one.
func ProvisionalResult(paper *model.ExamPaper, answers []model.UserAnswer, sessionID uuid.UUID, timeSpentSeconds int) *model.ExamResult {
	byQuestion := make(map[uuid.UUID]model.UserAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	result := &model.ExamResult{
		SessionID:        sessionID,
		TotalScore:       paper.TotalScore,
		TotalQuestions:   len(paper.Questions),
		TimeSpentSeconds: timeSpentSeconds,
		Provisional:      true,
		QuestionResults:  make([]model.QuestionResult, 0, len(paper.Questions)),
	}

	for i := range paper.Questions {
		q := &paper.Questions[i]
		qr := model.QuestionResult{QuestionID: q.ID, MaxScore: q.Score}

		answer, answered := byQuestion[q.ID]
		answered = answered && answer.Answered()

		switch {
		case !q.QuestionType.Objective():
			// Essay: pending until the external grader scores it.
			qr.Pending = answered
		case answered && answer.Value.Equal(q.CorrectAnswer):
			qr.Correct = true
			qr.Score = q.Score
			result.Score += q.Score
			result.CorrectAnswers++
		}

		result.QuestionResults = append(result.QuestionResults, qr)
	}

	return result
}
