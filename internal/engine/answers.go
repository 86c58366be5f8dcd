package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examflow/internal/model"
)

// AnswerStore holds the current answer and save state per question. It is
// mutated only through the autosave pipeline's capture entry point; that
// single-writer discipline is what makes the monotonic-sequence invariant
// enforceable.
//
// State transitions only apply when the acted-on sequence is still the
// current one, so a save completing out of order can never clobber a newer
// local edit: last sequence wins, never last arrival.
type AnswerStore struct {
	mu      sync.RWMutex
	order   []uuid.UUID
	answers map[uuid.UUID]*model.UserAnswer
}

// NewAnswerStore creates a store accepting only the paper's question ids.
func NewAnswerStore(paper *model.ExamPaper) *AnswerStore {
	order := make([]uuid.UUID, 0, len(paper.Questions))
	for i := range paper.Questions {
		order = append(order, paper.Questions[i].ID)
	}
	return &AnswerStore{
		order:   order,
		answers: make(map[uuid.UUID]*model.UserAnswer, len(order)),
	}
}

func (s *AnswerStore) known(id uuid.UUID) bool {
	for _, qid := range s.order {
		if qid == id {
			return true
		}
	}
	return false
}

// Put records a new local value for the question, assigns it the next
// sequence number and marks it DIRTY. Returns a copy of the stored answer.
func (s *AnswerStore) Put(questionID uuid.UUID, value model.AnswerValue) (model.UserAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.known(questionID) {
		return model.UserAnswer{}, ErrUnknownQuestion
	}

	a, ok := s.answers[questionID]
	if !ok {
		a = &model.UserAnswer{QuestionID: questionID}
		s.answers[questionID] = a
	}
	a.Sequence++
	a.Value = value
	a.SaveState = model.SaveStateDirty
	return *a, nil
}

// Get returns a copy of the current answer for the question.
func (s *AnswerStore) Get(questionID uuid.UUID) (model.UserAnswer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[questionID]
	if !ok {
		return model.UserAnswer{}, false
	}
	return *a, true
}

// MarkSaving transitions the answer to SAVING, but only if seq is still the
// current sequence. Returns false for stale dispatches.
func (s *AnswerStore) MarkSaving(questionID uuid.UUID, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[questionID]
	if !ok || a.Sequence != seq {
		return false
	}
	a.SaveState = model.SaveStateSaving
	return true
}

// MarkSaved records a confirmed save. Ignored when a newer edit exists: the
// newer sequence stays DIRTY and its own save will settle it.
func (s *AnswerStore) MarkSaved(questionID uuid.UUID, seq uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[questionID]
	if !ok || a.Sequence != seq {
		return
	}
	a.SaveState = model.SaveStateSaved
	a.SavedAt = &at
}

// MarkFailed records an exhausted save. Ignored when a newer edit exists.
// The local value stays visible and editable; FAILED is only an indicator.
func (s *AnswerStore) MarkFailed(questionID uuid.UUID, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.answers[questionID]
	if !ok || a.Sequence != seq {
		return
	}
	a.SaveState = model.SaveStateFailed
}

// Unsettled returns copies of answers that are DIRTY or SAVING. FAILED
// answers count as settled: their retries are spent and they will be bundled
// into the submission payload instead.
func (s *AnswerStore) Unsettled() []model.UserAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.UserAnswer
	for _, qid := range s.order {
		if a, ok := s.answers[qid]; ok && !a.SaveState.Settled() {
			out = append(out, *a)
		}
	}
	return out
}

// Answered reports whether the question has a non-empty local answer.
func (s *AnswerStore) Answered(questionID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[questionID]
	return ok && a.Answered()
}

// AnsweredCount counts questions with a non-empty local answer.
func (s *AnswerStore) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.answers {
		if a.Answered() {
			n++
		}
	}
	return n
}

// Snapshot returns one answer slot per paper question in paper order.
// Questions never touched yield an empty slot with sequence 0, so a
// submission payload always carries every slot.
func (s *AnswerStore) Snapshot() []model.UserAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.UserAnswer, 0, len(s.order))
	for _, qid := range s.order {
		if a, ok := s.answers[qid]; ok {
			out = append(out, *a)
		} else {
			out = append(out, model.UserAnswer{QuestionID: qid})
		}
	}
	return out
}
