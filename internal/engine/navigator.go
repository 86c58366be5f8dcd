package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/examflow/internal/model"
)

// Navigator is a pure client-side cursor over the ordered question
// sequence, independent of network state. Navigation never errors: moves
// clamp at the sequence ends and out-of-bounds jumps are no-ops.
type Navigator struct {
	mu      sync.RWMutex
	ids     []uuid.UUID
	store   *AnswerStore
	current int
	visited []bool
}

// NewNavigator positions the cursor on the first question.
func NewNavigator(paper *model.ExamPaper, store *AnswerStore) *Navigator {
	ids := make([]uuid.UUID, 0, len(paper.Questions))
	for i := range paper.Questions {
		ids = append(ids, paper.Questions[i].ID)
	}
	n := &Navigator{
		ids:     ids,
		store:   store,
		visited: make([]bool, len(ids)),
	}
	if len(n.visited) > 0 {
		n.visited[0] = true
	}
	return n
}

// Next advances the cursor, clamping at the last question.
func (n *Navigator) Next() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current < len(n.ids)-1 {
		n.current++
		n.visited[n.current] = true
	}
	return n.current
}

// Previous moves the cursor back, clamping at the first question.
func (n *Navigator) Previous() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current > 0 {
		n.current--
		n.visited[n.current] = true
	}
	return n.current
}

// GoTo jumps to index. Out-of-bounds indexes are ignored.
func (n *Navigator) GoTo(index int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index >= 0 && index < len(n.ids) {
		n.current = index
		n.visited[index] = true
	}
	return n.current
}

// Current returns the cursor index.
func (n *Navigator) Current() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// CurrentQuestionID returns the id under the cursor, or uuid.Nil for an
// empty paper.
func (n *Navigator) CurrentQuestionID() uuid.UUID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.ids) == 0 {
		return uuid.Nil
	}
	return n.ids[n.current]
}

// Visited reports whether the question at index was ever shown.
func (n *Navigator) Visited(index int) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return index >= 0 && index < len(n.visited) && n.visited[index]
}

// AnsweredCount is derived from the answer store.
func (n *Navigator) AnsweredCount() int {
	return n.store.AnsweredCount()
}

// Progress returns (currentIndex+1)/totalQuestions, 0 for an empty paper.
func (n *Navigator) Progress() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.ids) == 0 {
		return 0
	}
	return float64(n.current+1) / float64(len(n.ids))
}
