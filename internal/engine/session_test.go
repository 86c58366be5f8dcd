package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/clock"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/model"
)

func startTestSession(t *testing.T, api *apiStub, clk clock.Clock) *Session {
	t.Helper()
	s, err := StartSession(context.Background(), api, clk, testConfig(), zerolog.Nop(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	t.Cleanup(s.Abandon)
	return s
}

func TestStartSessionMapsCreationRejections(t *testing.T) {
	api := &apiStub{paper: testPaper(1, 600)}
	api.createErr = &examapi.APIError{StatusCode: 403, Code: examapi.CodeNotYetOpen, Message: "window not open"}

	_, err := StartSession(context.Background(), api, clock.NewMock(), testConfig(), zerolog.Nop(), uuid.New(), uuid.New(), 7)
	var ce *SessionCreationError
	if !errors.As(err, &ce) || ce.Code != CreationNotYetOpen {
		t.Fatalf("err = %v, want SessionCreationError NOT_YET_OPEN", err)
	}
}

func TestSessionAutoSubmitsOnExpiry(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(10, 7200)}
	s := startTestSession(t, api, clk)

	for i := 0; i < 7; i++ {
		if _, err := s.Answer(api.paper.Questions[i].ID, model.Text("A")); err != nil {
			t.Fatalf("Answer: %v", err)
		}
	}
	waitFor(t, func() bool { return api.savedCount() >= 7 }, "autosaves settled")

	// Jump past the deadline; a single coalesced tick must still expire the
	// countdown and drive the submission.
	clk.Advance(7201 * time.Second)
	waitFor(t, func() bool { return s.Status() == model.SessionStatusTimedOut }, "session timed out")

	if got := api.submitted(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
	payload := api.payload()
	if payload.Reason != model.SubmitReasonTimeout {
		t.Errorf("reason = %s, want timeout", payload.Reason)
	}
	if len(payload.Answers) != 10 {
		t.Errorf("payload answers = %d slots, want every slot", len(payload.Answers))
	}
	if payload.TimeSpentSeconds != 7200 {
		t.Errorf("time spent = %d, want clamped to the exam duration", payload.TimeSpentSeconds)
	}

	// A manual submit arriving after expiry sees the existing result and
	// triggers no second network call.
	result, err := s.RequestSubmit(context.Background(), model.SubmitReasonManual)
	if err != nil || result == nil {
		t.Fatalf("RequestSubmit after expiry: %v", err)
	}
	if got := api.submitted(); got != 1 {
		t.Errorf("submit calls after late manual submit = %d, want still 1", got)
	}
}

func TestSessionConcurrentSubmitsMakeOneNetworkCall(t *testing.T) {
	api := &apiStub{paper: testPaper(3, 7200), submitDelay: 50 * time.Millisecond}
	s := startTestSession(t, api, clock.New())

	var wg sync.WaitGroup
	results := make([]*model.ExamResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.RequestSubmit(context.Background(), model.SubmitReasonManual)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("RequestSubmit %d: %v", i, errs[i])
		}
	}
	if results[0] != results[1] {
		t.Error("concurrent submits observed different results")
	}
	if got := api.submitted(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}
	if s.Status() != model.SessionStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", s.Status())
	}
}

func TestSessionStaysPendingAndResumesWithStoredReason(t *testing.T) {
	api := &apiStub{paper: testPaper(2, 7200)}
	for i := 0; i < 4; i++ {
		api.submitErrs = append(api.submitErrs, serverErr())
	}
	s := startTestSession(t, api, clock.New())

	_, err := s.RequestSubmit(context.Background(), model.SubmitReasonTimeout)
	if !errors.Is(err, ErrSubmissionPending) {
		t.Fatalf("err = %v, want ErrSubmissionPending", err)
	}
	if s.Status() != model.SessionStatusSubmitting {
		t.Fatalf("status = %s, want SUBMITTING (never discarded)", s.Status())
	}
	if _, err := s.Answer(api.paper.Questions[0].ID, model.Text("A")); err != ErrSessionNotInProgress {
		t.Errorf("Answer while SUBMITTING err = %v, want ErrSessionNotInProgress", err)
	}

	// The retry resumes with the reason of the original trigger, not the
	// reason of whoever pressed the button again.
	result, err := s.RequestSubmit(context.Background(), model.SubmitReasonManual)
	if err != nil || result == nil {
		t.Fatalf("resumed RequestSubmit: %v", err)
	}
	if s.Status() != model.SessionStatusTimedOut {
		t.Errorf("status = %s, want TIMED_OUT from the original timeout trigger", s.Status())
	}
}

func TestSessionRecoversResultWhenAlreadySubmitted(t *testing.T) {
	api := &apiStub{paper: testPaper(2, 7200)}
	api.result = &model.ExamResult{Score: 55, TotalScore: 100}
	api.submitErrs = []error{&examapi.APIError{StatusCode: 409, Code: examapi.CodeAlreadySubmitted, Message: "dup"}}
	s := startTestSession(t, api, clock.New())

	result, err := s.RequestSubmit(context.Background(), model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if result.Score != 55 {
		t.Errorf("score = %v, want the result the server already produced", result.Score)
	}
	if got := api.submitted(); got != 1 {
		t.Errorf("submit calls = %d, want 1 (fallback uses GetResult)", got)
	}
}

func TestSessionAbandonStopsEverything(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(2, 3)}
	s := startTestSession(t, api, clk)

	s.Abandon()
	if s.Status() != model.SessionStatusAbandoned {
		t.Fatalf("status = %s, want ABANDONED", s.Status())
	}

	// Past the deadline: the stopped countdown must not auto-submit.
	clk.Advance(time.Minute)
	time.Sleep(50 * time.Millisecond)
	if got := api.submitted(); got != 0 {
		t.Errorf("submit calls after abandon = %d, want 0", got)
	}

	if _, err := s.RequestSubmit(context.Background(), model.SubmitReasonManual); err != ErrNoActiveSession {
		t.Errorf("RequestSubmit on abandoned err = %v, want ErrNoActiveSession", err)
	}
}

func TestSessionAbandonLeavesTerminalStatusUntouched(t *testing.T) {
	api := &apiStub{paper: testPaper(1, 7200)}
	s := startTestSession(t, api, clock.New())

	if _, err := s.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	s.Abandon()
	if s.Status() != model.SessionStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED preserved", s.Status())
	}
}

func TestSessionResyncShiftsCountdown(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(1, 600)}
	api.remaining = 300 * time.Second
	s := startTestSession(t, api, clk)

	if err := s.Resync(context.Background()); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got := s.TimeRemaining(); got != 300*time.Second {
		t.Errorf("remaining = %v, want the server's 300s", got)
	}
}

func TestSessionTickSubscription(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(1, 600)}
	s := startTestSession(t, api, clk)

	ticks := make(chan time.Duration, 16)
	unsubscribe := s.SubscribeTicks(func(r time.Duration) { ticks <- r })

	clk.Advance(time.Second)
	select {
	case r := <-ticks:
		if r != 599*time.Second {
			t.Errorf("tick = %v, want 599s", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick never delivered")
	}

	unsubscribe()
	clk.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-ticks:
		t.Error("tick delivered after unsubscribe")
	default:
	}
}

func TestSessionStateSnapshot(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(4, 600)}
	s := startTestSession(t, api, clk)

	s.Answer(api.paper.Questions[0].ID, model.Text("A"))
	s.Next()

	state := s.State()
	if state.Status != model.SessionStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", state.Status)
	}
	if state.CurrentIndex != 1 || state.CurrentQuestionID != api.paper.Questions[1].ID {
		t.Errorf("cursor = %d/%s, want question 1", state.CurrentIndex, state.CurrentQuestionID)
	}
	if state.AnsweredCount != 1 || state.TotalQuestions != 4 {
		t.Errorf("answered = %d/%d, want 1/4", state.AnsweredCount, state.TotalQuestions)
	}
	if state.TimeRemainingSeconds != 600 {
		t.Errorf("remaining = %d, want 600", state.TimeRemainingSeconds)
	}
	if len(state.Answers) != 4 {
		t.Errorf("answers = %d slots, want one per question", len(state.Answers))
	}
}
