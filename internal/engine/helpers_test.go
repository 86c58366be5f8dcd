package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/model"
	"github.com/stemsi/examflow/internal/retry"
)

// testPaper builds a paper of n single-choice questions worth 10 points
// each, all with correct answer "A".
func testPaper(n, durationSeconds int) *model.ExamPaper {
	paper := &model.ExamPaper{
		ID:              uuid.New(),
		ExamID:          uuid.New(),
		Title:           "Midterm",
		DurationSeconds: durationSeconds,
	}
	for i := 0; i < n; i++ {
		q := model.Question{
			ID:            uuid.New(),
			QuestionText:  fmt.Sprintf("Question %d", i+1),
			QuestionType:  model.QuestionTypeSingleChoice,
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: model.Text("A"),
			Score:         10,
			OrderNum:      i + 1,
		}
		paper.Questions = append(paper.Questions, q)
		paper.TotalScore += q.Score
	}
	return paper
}

// testConfig shrinks every delay so retries and debounces settle in
// milliseconds.
func testConfig() Config {
	return Config{
		AutosaveDebounce: 10 * time.Millisecond,
		AutosavePolicy:   retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
		SubmitPolicy:     retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
		FlushTimeout:     2 * time.Second,
		DriftTolerance:   2 * time.Second,
	}
}

func serverErr() error {
	return &examapi.APIError{StatusCode: 503, Code: examapi.CodeInternal, Message: "upstream down"}
}

// apiStub implements examapi.API in memory. Error slices are consumed one
// per call; an exhausted slice means success.
type apiStub struct {
	paper *model.ExamPaper

	mu          sync.Mutex
	createErr   error
	saveErrs    []error
	saveCalls   []model.UserAnswer
	submitErrs  []error
	submitCalls int
	submitDelay time.Duration
	lastPayload model.SubmissionPayload
	result      *model.ExamResult
	resultErr   error
	remaining   time.Duration
}

func (a *apiStub) CreateSession(ctx context.Context, examID, paperID uuid.UUID, userID int) (*model.ExamSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return nil, a.createErr
	}
	return &model.ExamSession{
		ID:              uuid.New(),
		ExamID:          examID,
		PaperID:         paperID,
		UserID:          userID,
		DurationSeconds: a.paper.DurationSeconds,
		Status:          model.SessionStatusInProgress,
	}, nil
}

func (a *apiStub) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	return a.paper, nil
}

func (a *apiStub) SaveAnswer(ctx context.Context, sessionID uuid.UUID, answer model.UserAnswer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saveCalls = append(a.saveCalls, answer)
	if len(a.saveErrs) > 0 {
		err := a.saveErrs[0]
		a.saveErrs = a.saveErrs[1:]
		return err
	}
	return nil
}

func (a *apiStub) SubmitExam(ctx context.Context, sessionID uuid.UUID, idempotencyKey string, payload model.SubmissionPayload) (*model.ExamResult, error) {
	a.mu.Lock()
	a.submitCalls++
	a.lastPayload = payload
	var err error
	if len(a.submitErrs) > 0 {
		err = a.submitErrs[0]
		a.submitErrs = a.submitErrs[1:]
	}
	res := a.result
	if err == nil && res == nil {
		res = &model.ExamResult{
			SessionID:  sessionID,
			Score:      70,
			TotalScore: a.paper.TotalScore,
		}
		a.result = res
	}
	delay := a.submitDelay
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *apiStub) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resultErr != nil {
		return nil, a.resultErr
	}
	if a.result == nil {
		return nil, &examapi.APIError{StatusCode: 404, Code: examapi.CodeNotFound, Message: "no result"}
	}
	return a.result, nil
}

func (a *apiStub) GetRemainingTime(ctx context.Context, sessionID uuid.UUID) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining, nil
}

func (a *apiStub) savedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saveCalls)
}

func (a *apiStub) submitted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitCalls
}

func (a *apiStub) payload() model.SubmissionPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPayload
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline: %s", msg)
}
