package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/clock"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/model"
	"github.com/stemsi/examflow/internal/retry"
)

// Config tunes the engine's three timeout sources: the autosave debounce and
// retry backoff, the submission flush and retry backoff, and the countdown
// drift tolerance. Every wait in the engine is bounded by one of these.
type Config struct {
	AutosaveDebounce time.Duration
	AutosavePolicy   retry.Policy
	SubmitPolicy     retry.Policy
	FlushTimeout     time.Duration
	DriftTolerance   time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		AutosaveDebounce: 750 * time.Millisecond,
		AutosavePolicy:   retry.Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second},
		SubmitPolicy:     retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		FlushTimeout:     10 * time.Second,
		DriftTolerance:   2 * time.Second,
	}
}

// State is the read-only snapshot exposed to the UI layer.
type State struct {
	SessionID            uuid.UUID           `json:"session_id"`
	ExamID               uuid.UUID           `json:"exam_id"`
	Status               model.SessionStatus `json:"status"`
	TimeRemainingSeconds int                 `json:"time_remaining_seconds"`
	CurrentIndex         int                 `json:"current_index"`
	CurrentQuestionID    uuid.UUID           `json:"current_question_id"`
	AnsweredCount        int                 `json:"answered_count"`
	TotalQuestions       int                 `json:"total_questions"`
	Progress             float64             `json:"progress"`
	SubmissionPending    bool                `json:"submission_pending"`
	Answers              []model.UserAnswer  `json:"answers"`
}

// Session owns one timed attempt end to end: it coordinates the answer
// store, autosave pipeline, countdown and navigator, and drives the final
// submission to completion exactly once.
//
// Status moves one way only: IN_PROGRESS → SUBMITTING → SUBMITTED or
// TIMED_OUT (ABANDONED when replaced). Nothing leaves a terminal status.
type Session struct {
	id      uuid.UUID
	examID  uuid.UUID
	paperID uuid.UUID
	userID  int
	paper   *model.ExamPaper
	started time.Time

	clk clock.Clock
	api examapi.API
	cfg Config
	log zerolog.Logger

	store     *AnswerStore
	pipeline  *Pipeline
	countdown *Countdown
	nav       *Navigator

	mu         sync.Mutex
	status     model.SessionStatus
	reason     model.SubmitReason
	result     *model.ExamResult
	submitDone chan struct{} // non-nil while a submission attempt is in flight

	tickMu   sync.Mutex
	tickSubs map[int]func(time.Duration)
	nextSub  int
}

// StartSession creates the attempt with the collaborator, fetches the paper
// and brings up the countdown, pipeline and navigator. Rejections of the
// scheduled window surface as *SessionCreationError.
func StartSession(ctx context.Context, api examapi.API, clk clock.Clock, cfg Config, log zerolog.Logger, examID, paperID uuid.UUID, userID int) (*Session, error) {
	created, err := api.CreateSession(ctx, examID, paperID, userID)
	if err != nil {
		if ce := AsCreationError(err); ce != nil {
			return nil, ce
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	paper, err := api.GetPaper(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam paper: %w", err)
	}

	duration := time.Duration(created.DurationSeconds) * time.Second
	if duration <= 0 {
		duration = paper.Duration()
	}
	started := created.StartedAt
	if started.IsZero() {
		started = clk.Now()
	}

	s := &Session{
		id:       created.ID,
		examID:   examID,
		paperID:  paperID,
		userID:   userID,
		paper:    paper,
		started:  started,
		clk:      clk,
		api:      api,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Str("session_id", created.ID.String()).Logger(),
		status:   model.SessionStatusInProgress,
		tickSubs: make(map[int]func(time.Duration)),
	}
	s.store = NewAnswerStore(paper)
	s.pipeline = NewPipeline(s.id, s.store, api, clk, cfg.AutosaveDebounce, cfg.AutosavePolicy, log)
	s.nav = NewNavigator(paper, s.store)
	s.countdown = NewCountdown(clk, started, duration, cfg.DriftTolerance, s.notifyTick, s.autoSubmit)
	s.countdown.Start()

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("user_id", userID).
		Int("questions", len(paper.Questions)).
		Dur("duration", duration).
		Msg("session started")
	return s, nil
}

// ID returns the session id, which doubles as the submission idempotency key.
func (s *Session) ID() uuid.UUID { return s.id }

// ExamID returns the exam id.
func (s *Session) ExamID() uuid.UUID { return s.examID }

// UserID returns the owning user id.
func (s *Session) UserID() int { return s.userID }

// Paper returns the immutable exam paper.
func (s *Session) Paper() *model.ExamPaper { return s.paper }

// Status returns the current lifecycle status.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TimeRemaining returns the drift-corrected remaining time, never negative.
func (s *Session) TimeRemaining() time.Duration {
	return s.countdown.Remaining()
}

// Answer captures a local answer mutation. This is the only write path into
// the answer store; it requires an IN_PROGRESS session.
func (s *Session) Answer(questionID uuid.UUID, value model.AnswerValue) (model.UserAnswer, error) {
	s.mu.Lock()
	if s.status != model.SessionStatusInProgress {
		s.mu.Unlock()
		return model.UserAnswer{}, ErrSessionNotInProgress
	}
	s.mu.Unlock()
	return s.pipeline.Capture(questionID, value)
}

// Next, Previous and GoTo move the navigation cursor. They are pure local
// operations and work regardless of network state.
func (s *Session) Next() int          { return s.nav.Next() }
func (s *Session) Previous() int      { return s.nav.Previous() }
func (s *Session) GoTo(index int) int { return s.nav.GoTo(index) }

// autoSubmit is the countdown expiry callback.
func (s *Session) autoSubmit() {
	s.log.Info().Msg("countdown reached zero, auto-submitting")
	if _, err := s.RequestSubmit(context.Background(), model.SubmitReasonTimeout); err != nil && !errors.Is(err, ErrSubmissionPending) {
		s.log.Error().Err(err).Msg("auto-submit failed")
	}
}

// RequestSubmit drives the attempt to submission. It is idempotent:
//   - terminal sessions return their existing result;
//   - while an attempt is in flight, callers wait for that attempt's outcome
//     instead of starting a second one;
//   - a session left SUBMITTING by exhausted retries is resumed with the
//     same idempotency key.
//
// On exhausted retries the session stays SUBMITTING and ErrSubmissionPending
// is returned; the session is never discarded without a confirmed result.
func (s *Session) RequestSubmit(ctx context.Context, reason model.SubmitReason) (*model.ExamResult, error) {
	s.mu.Lock()
	switch s.status {
	case model.SessionStatusSubmitted, model.SessionStatusTimedOut:
		result := s.result
		s.mu.Unlock()
		return result, nil

	case model.SessionStatusAbandoned:
		s.mu.Unlock()
		return nil, ErrNoActiveSession

	case model.SessionStatusSubmitting:
		done := s.submitDone
		if done != nil {
			s.mu.Unlock()
			return s.awaitSubmit(ctx, done)
		}
		// Previous attempt exhausted its retries; resume with the same key.
		done = make(chan struct{})
		s.submitDone = done
		reason = s.reason
		s.mu.Unlock()
		return s.performSubmit(ctx, reason, done)

	case model.SessionStatusInProgress:
		s.status = model.SessionStatusSubmitting
		s.reason = reason
		done := make(chan struct{})
		s.submitDone = done
		s.mu.Unlock()
		return s.performSubmit(ctx, reason, done)

	default:
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}
}

// awaitSubmit blocks until the in-flight attempt settles, then reports its
// outcome. This is what turns a double-click into a single network call.
func (s *Session) awaitSubmit(ctx context.Context, done <-chan struct{}) (*model.ExamResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result, nil
	}
	return nil, ErrSubmissionPending
}

func (s *Session) performSubmit(ctx context.Context, reason model.SubmitReason, done chan struct{}) (*model.ExamResult, error) {
	// Best-effort flush, bounded: whatever does not settle in time is
	// bundled into the payload below, so no answer is ever lost to a save
	// that never completed.
	flushCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	unsettled := s.pipeline.FlushAll(flushCtx)
	cancel()
	if len(unsettled) > 0 {
		s.log.Warn().Int("count", len(unsettled)).Msg("unsettled answers bundled into submission")
	}

	payload := model.SubmissionPayload{
		SessionID:        s.id,
		Reason:           reason,
		TimeSpentSeconds: s.timeSpentSeconds(),
		Answers:          s.store.Snapshot(),
	}

	var result *model.ExamResult
	err := retry.Do(ctx, s.cfg.SubmitPolicy, func(ctx context.Context) error {
		r, err := s.api.SubmitExam(ctx, s.id, s.id.String(), payload)
		if err != nil {
			// The server already has this submission under our key; fetch
			// the result it produced instead of failing.
			if examapi.CodeOf(err) == examapi.CodeAlreadySubmitted {
				r, err = s.api.GetResult(ctx, s.id)
				if err == nil {
					result = r
					return nil
				}
			}
			if !examapi.IsRetryable(err) {
				return retry.Stop(err)
			}
			return err
		}
		result = r
		return nil
	})

	s.mu.Lock()
	s.submitDone = nil
	if err == nil {
		s.result = result
		if reason == model.SubmitReasonTimeout {
			s.status = model.SessionStatusTimedOut
		} else {
			s.status = model.SessionStatusSubmitted
		}
	}
	close(done)
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("submission unconfirmed, staying pending")
		return nil, fmt.Errorf("%w: %s", ErrSubmissionPending, err)
	}

	s.teardown()
	s.log.Info().Str("reason", string(reason)).Float64("score", result.Score).Msg("session submitted")
	return result, nil
}

func (s *Session) timeSpentSeconds() int {
	spent := s.clk.Now().Sub(s.started)
	if limit := s.countdown.duration; spent > limit {
		spent = limit
	}
	if spent < 0 {
		spent = 0
	}
	return int(spent / time.Second)
}

// Provisional returns the optimistic local grading of the current answers.
// It is clearly marked provisional and must be replaced by the authoritative
// result as soon as the grading service responds.
func (s *Session) Provisional() *model.ExamResult {
	return ProvisionalResult(s.paper, s.store.Snapshot(), s.id, s.timeSpentSeconds())
}

// Result returns the authoritative result once the session is terminal.
func (s *Session) Result() (*model.ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, ErrResultNotReady
	}
	return s.result, nil
}

// Resync pulls the server's view of the remaining time and shifts the local
// countdown baseline if they diverged materially. Drift is resolved, never
// surfaced as an error.
func (s *Session) Resync(ctx context.Context) error {
	remaining, err := s.api.GetRemainingTime(ctx, s.id)
	if err != nil {
		return fmt.Errorf("get remaining time: %w", err)
	}
	if s.countdown.Resync(remaining) {
		s.log.Info().Dur("server_remaining", remaining).Msg("countdown baseline resynced")
	}
	return nil
}

// Abandon terminates a replaced or discarded session: the countdown stops,
// outstanding autosaves are cancelled, and no writes can bleed into a
// successor session. Terminal sessions are left untouched.
func (s *Session) Abandon() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = model.SessionStatusAbandoned
	s.mu.Unlock()

	s.teardown()
	s.log.Info().Msg("session abandoned")
}

// teardown stops timers and outstanding work. Safe to call more than once.
func (s *Session) teardown() {
	s.countdown.Stop()
	s.pipeline.Close()
}

// SubscribeTicks registers a 1 Hz listener for the remaining time and
// returns its unsubscribe func. Used by the streaming surface.
func (s *Session) SubscribeTicks(fn func(remaining time.Duration)) func() {
	s.tickMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.tickSubs[id] = fn
	s.tickMu.Unlock()

	return func() {
		s.tickMu.Lock()
		delete(s.tickSubs, id)
		s.tickMu.Unlock()
	}
}

func (s *Session) notifyTick(remaining time.Duration) {
	s.tickMu.Lock()
	subs := make([]func(time.Duration), 0, len(s.tickSubs))
	for _, fn := range s.tickSubs {
		subs = append(subs, fn)
	}
	s.tickMu.Unlock()

	for _, fn := range subs {
		fn(remaining)
	}
}

// State builds the read-only snapshot for the UI layer.
func (s *Session) State() State {
	s.mu.Lock()
	status := s.status
	pending := status == model.SessionStatusSubmitting && s.submitDone == nil
	s.mu.Unlock()

	return State{
		SessionID:            s.id,
		ExamID:               s.examID,
		Status:               status,
		TimeRemainingSeconds: int(s.countdown.Remaining() / time.Second),
		CurrentIndex:         s.nav.Current(),
		CurrentQuestionID:    s.nav.CurrentQuestionID(),
		AnsweredCount:        s.store.AnsweredCount(),
		TotalQuestions:       len(s.paper.Questions),
		Progress:             s.nav.Progress(),
		SubmissionPending:    pending,
		Answers:              s.store.Snapshot(),
	}
}
