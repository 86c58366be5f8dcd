package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/clock"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/model"
)

// RecoveryCache is the ephemeral store used to recover countdown baselines
// and terminal results across reloads. Implementations may be nil-free but
// the Manager treats any cache failure as a miss.
type RecoveryCache interface {
	SetBaseline(ctx context.Context, session *model.ExamSession) error
	GetDeadline(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	SetResult(ctx context.Context, result *model.ExamResult) error
	GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
}

// Manager enforces the one-attempt-at-a-time rule: at most one IN_PROGRESS
// session per user. Once a new attempt is confirmed by the collaborator, the
// previous session is abandoned, cancelling its countdown and outstanding
// autosave retries so nothing bleeds into the new attempt.
type Manager struct {
	api   examapi.API
	clk   clock.Clock
	cfg   Config
	cache RecoveryCache
	log   zerolog.Logger

	mu        sync.Mutex
	byUser    map[int]*Session
	bySession map[uuid.UUID]*Session
}

// NewManager creates a Manager. cache may be nil (no recovery layer).
func NewManager(api examapi.API, clk clock.Clock, cfg Config, cache RecoveryCache, log zerolog.Logger) *Manager {
	return &Manager{
		api:       api,
		clk:       clk,
		cfg:       cfg,
		cache:     cache,
		log:       log.With().Str("component", "session_manager").Logger(),
		byUser:    make(map[int]*Session),
		bySession: make(map[uuid.UUID]*Session),
	}
}

// Start begins a new attempt for the user, replacing any previous one.
func (m *Manager) Start(ctx context.Context, examID, paperID uuid.UUID, userID int) (*Session, error) {
	session, err := StartSession(ctx, m.api, m.clk, m.cfg, m.log, examID, paperID, userID)
	if err != nil {
		// The previous attempt, if any, stays live: a rejected creation
		// must not tear down the countdown or pending autosaves.
		return nil, err
	}

	m.mu.Lock()
	previous := m.byUser[userID]
	m.byUser[userID] = session
	m.bySession[session.ID()] = session
	m.mu.Unlock()

	if previous != nil {
		previous.Abandon()
	}

	if m.cache != nil {
		baseline := &model.ExamSession{
			ID:              session.ID(),
			ExamID:          examID,
			PaperID:         paperID,
			UserID:          userID,
			StartedAt:       session.started,
			DurationSeconds: int(session.countdown.duration.Seconds()),
			Status:          model.SessionStatusInProgress,
		}
		if err := m.cache.SetBaseline(ctx, baseline); err != nil {
			m.log.Warn().Err(err).Msg("baseline cache write failed")
		}
	}
	return session, nil
}

// Current returns the user's session, if any.
func (m *Manager) Current(userID int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	return s, ok
}

// Session looks up a session by id.
func (m *Manager) Session(sessionID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySession[sessionID]
	return s, ok
}

// RemainingTime resolves a session's countdown with a failover chain: the
// live session first, then the cached deadline, then the collaborator's
// authoritative view. The result is never negative.
func (m *Manager) RemainingTime(ctx context.Context, sessionID uuid.UUID) (time.Duration, error) {
	if session, ok := m.Session(sessionID); ok {
		return session.TimeRemaining(), nil
	}

	if m.cache != nil {
		if deadline, err := m.cache.GetDeadline(ctx, sessionID); err == nil {
			remaining := deadline.Sub(m.clk.Now())
			if remaining < 0 {
				remaining = 0
			}
			return remaining, nil
		}
	}

	return m.api.GetRemainingTime(ctx, sessionID)
}

// Submit drives the user's session to submission and caches the confirmed
// result for reload recovery.
func (m *Manager) Submit(ctx context.Context, userID int, reason model.SubmitReason) (*model.ExamResult, error) {
	session, ok := m.Current(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}

	result, err := session.RequestSubmit(ctx, reason)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		if cacheErr := m.cache.SetResult(ctx, result); cacheErr != nil {
			m.log.Warn().Err(cacheErr).Msg("result cache write failed")
		}
	}
	return result, nil
}

// Result recovers a session's result: from the live session if present,
// then the Redis cache, then the collaborator. A result fetched after a
// reload is identical to the one produced at submission because the
// collaborator keys it by the same session id.
func (m *Manager) Result(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	m.mu.Lock()
	session, ok := m.bySession[sessionID]
	m.mu.Unlock()

	if ok {
		if result, err := session.Result(); err == nil {
			return result, nil
		}
	}

	if m.cache != nil {
		if result, err := m.cache.GetResult(ctx, sessionID); err == nil {
			return result, nil
		}
	}

	result, err := m.api.GetResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if cacheErr := m.cache.SetResult(ctx, result); cacheErr != nil {
			m.log.Warn().Err(cacheErr).Msg("result cache write failed")
		}
	}
	return result, nil
}

// Close abandons every non-terminal session. Used on gateway shutdown so no
// timers or retries outlive the process intentionally.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byUser))
	for _, s := range m.byUser {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Abandon()
	}
}
