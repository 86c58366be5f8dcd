package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/clock"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/model"
)

// cacheStub is an in-memory RecoveryCache.
type cacheStub struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]time.Time
	results   map[uuid.UUID]*model.ExamResult
}

func newCacheStub() *cacheStub {
	return &cacheStub{
		deadlines: make(map[uuid.UUID]time.Time),
		results:   make(map[uuid.UUID]*model.ExamResult),
	}
}

func (c *cacheStub) SetBaseline(ctx context.Context, session *model.ExamSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[session.ID] = session.Deadline()
	return nil
}

func (c *cacheStub) GetDeadline(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.deadlines[sessionID]
	if !ok {
		return time.Time{}, ErrResultNotReady
	}
	return deadline, nil
}

func (c *cacheStub) SetResult(ctx context.Context, result *model.ExamResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.SessionID] = result
	return nil
}

func (c *cacheStub) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[sessionID]
	if !ok {
		return nil, ErrResultNotReady
	}
	return result, nil
}

func newTestManager(api *apiStub, clk clock.Clock, cache RecoveryCache) *Manager {
	return NewManager(api, clk, testConfig(), cache, zerolog.Nop())
}

func TestManagerReplacingSessionAbandonsPrevious(t *testing.T) {
	api := &apiStub{paper: testPaper(2, 600)}
	m := newTestManager(api, clock.NewMock(), nil)
	defer m.Close()

	first, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("Start (replacement): %v", err)
	}

	if first.Status() != model.SessionStatusAbandoned {
		t.Errorf("first session status = %s, want ABANDONED", first.Status())
	}
	current, ok := m.Current(7)
	if !ok || current != second {
		t.Error("Current did not return the replacement session")
	}
	if _, ok := m.Session(second.ID()); !ok {
		t.Error("replacement session not reachable by id")
	}
}

func TestManagerRejectedStartKeepsCurrentSession(t *testing.T) {
	api := &apiStub{paper: testPaper(2, 600)}
	m := newTestManager(api, clock.NewMock(), nil)
	defer m.Close()

	first, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The collaborator refuses the new attempt; the live one must survive
	// with its countdown and autosave intact.
	api.mu.Lock()
	api.createErr = &examapi.APIError{StatusCode: 403, Code: examapi.CodeNotYetOpen, Message: "exam not open"}
	api.mu.Unlock()

	if _, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7); err == nil {
		t.Fatal("Start succeeded, want rejection")
	}

	if first.Status() != model.SessionStatusInProgress {
		t.Errorf("first session status = %s, want IN_PROGRESS after rejected replacement", first.Status())
	}
	current, ok := m.Current(7)
	if !ok || current != first {
		t.Error("Current did not keep the original session")
	}
	if _, err := first.Answer(api.paper.Questions[0].ID, model.Text("A")); err != nil {
		t.Errorf("Answer on surviving session: %v", err)
	}
}

func TestManagerSubmitCachesResultForRecovery(t *testing.T) {
	api := &apiStub{paper: testPaper(2, 7200)}
	cache := newCacheStub()
	m := newTestManager(api, clock.New(), cache)
	defer m.Close()

	session, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	submitted, err := m.Submit(context.Background(), 7, model.SubmitReasonManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The live session serves the result first.
	recovered, err := m.Result(context.Background(), session.ID())
	if err != nil || recovered.Score != submitted.Score {
		t.Fatalf("Result from live session = %v (%v), want the submitted score", recovered, err)
	}

	// A fresh manager (process restart) with a dead collaborator still
	// recovers the identical result from the cache.
	deadAPI := &apiStub{paper: api.paper, resultErr: serverErr()}
	m2 := newTestManager(deadAPI, clock.New(), cache)
	defer m2.Close()

	recovered, err = m2.Result(context.Background(), session.ID())
	if err != nil {
		t.Fatalf("Result from cache: %v", err)
	}
	if recovered.Score != submitted.Score || recovered.SessionID != submitted.SessionID {
		t.Errorf("recovered result = %+v, want identical to the submitted one", recovered)
	}
}

func TestManagerSubmitWithoutSession(t *testing.T) {
	api := &apiStub{paper: testPaper(1, 600)}
	m := newTestManager(api, clock.NewMock(), nil)
	if _, err := m.Submit(context.Background(), 99, model.SubmitReasonManual); err != ErrNoActiveSession {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestManagerRemainingTimeFailover(t *testing.T) {
	clk := clock.NewMock()
	api := &apiStub{paper: testPaper(1, 600)}
	cache := newCacheStub()
	m := newTestManager(api, clk, cache)
	defer m.Close()

	session, err := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 7)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Live session answers directly.
	remaining, err := m.RemainingTime(context.Background(), session.ID())
	if err != nil || remaining != 600*time.Second {
		t.Fatalf("live remaining = %v (%v), want 600s", remaining, err)
	}

	// Unknown to this manager: the cached deadline answers.
	clk.Advance(100 * time.Second)
	m2 := newTestManager(api, clk, cache)
	remaining, err = m2.RemainingTime(context.Background(), session.ID())
	if err != nil || remaining != 500*time.Second {
		t.Fatalf("cached remaining = %v (%v), want 500s", remaining, err)
	}

	// No cache entry either: the collaborator answers.
	api.remaining = 42 * time.Second
	remaining, err = m2.RemainingTime(context.Background(), uuid.New())
	if err != nil || remaining != 42*time.Second {
		t.Fatalf("collaborator remaining = %v (%v), want 42s", remaining, err)
	}
}

func TestManagerCloseAbandonsAllSessions(t *testing.T) {
	api := &apiStub{paper: testPaper(1, 600)}
	m := newTestManager(api, clock.NewMock(), nil)

	s1, _ := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 1)
	s2, _ := m.Start(context.Background(), api.paper.ExamID, api.paper.ID, 2)
	m.Close()

	if s1.Status() != model.SessionStatusAbandoned || s2.Status() != model.SessionStatusAbandoned {
		t.Errorf("statuses = %s/%s, want both ABANDONED", s1.Status(), s2.Status())
	}
}
