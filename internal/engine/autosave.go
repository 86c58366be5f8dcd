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
	"github.com/stemsi/examflow/internal/retry"
)

// Pipeline gets every locally-captured answer durably stored on the server
// without blocking the caller and without silently losing an answer on
// transient failure.
//
// Capture is the single mutation entry point for the answer store. Rapid
// edits to the same question coalesce within the debounce window into one
// outbound save carrying only the latest value. Sends retry with bounded
// exponential backoff; pre-send staleness checks keep ordering
// last-sequence-wins even when retries complete out of order.
type Pipeline struct {
	sessionID uuid.UUID
	store     *AnswerStore
	api       examapi.API
	clk       clock.Clock
	debounce  time.Duration
	policy    retry.Policy
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	closed bool

	wg      sync.WaitGroup
	settled chan struct{}
}

// NewPipeline creates a pipeline bound to one session's answer store.
// Closing the pipeline aborts all outstanding sends and retries, so a
// replaced session cannot bleed writes into its successor.
func NewPipeline(sessionID uuid.UUID, store *AnswerStore, api examapi.API, clk clock.Clock, debounce time.Duration, policy retry.Policy, log zerolog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		sessionID: sessionID,
		store:     store,
		api:       api,
		clk:       clk,
		debounce:  debounce,
		policy:    policy,
		log:       log.With().Str("component", "autosave").Str("session_id", sessionID.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uuid.UUID]*time.Timer),
		settled:   make(chan struct{}, 1),
	}
}

// Capture records a local answer mutation and (re)arms the question's
// debounce window. The returned answer carries the assigned sequence.
func (p *Pipeline) Capture(questionID uuid.UUID, value model.AnswerValue) (model.UserAnswer, error) {
	answer, err := p.store.Put(questionID, value)
	if err != nil {
		return model.UserAnswer{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return answer, nil
	}
	if t, ok := p.timers[questionID]; ok {
		t.Reset(p.debounce)
		return answer, nil
	}
	p.timers[questionID] = time.AfterFunc(p.debounce, func() {
		p.dispatch(questionID)
	})
	return answer, nil
}

// dispatch sends the question's latest answer, if it still needs saving.
func (p *Pipeline) dispatch(questionID uuid.UUID) {
	p.mu.Lock()
	if t, ok := p.timers[questionID]; ok {
		t.Stop()
		delete(p.timers, questionID)
	}
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.send(questionID)
}

func (p *Pipeline) send(questionID uuid.UUID) {
	defer p.wg.Done()

	answer, ok := p.store.Get(questionID)
	if !ok {
		return
	}
	if !p.store.MarkSaving(questionID, answer.Sequence) {
		// A newer edit raced in; its own dispatch will handle it.
		return
	}

	err := retry.Do(p.ctx, p.policy, func(ctx context.Context) error {
		// A newer sequence was dispatched meanwhile; sending this one could
		// arrive after it and the server must discard it anyway. Drop early.
		if cur, ok := p.store.Get(questionID); !ok || cur.Sequence > answer.Sequence {
			return retry.Stop(errStaleSave)
		}
		err := p.api.SaveAnswer(ctx, p.sessionID, answer)
		if err != nil && !examapi.IsRetryable(err) {
			return retry.Stop(err)
		}
		return err
	})

	switch {
	case err == nil:
		p.store.MarkSaved(questionID, answer.Sequence, p.clk.Now())
	case err == errStaleSave:
		// Superseded; nothing to record for this sequence.
	case p.ctx.Err() != nil:
		// Pipeline closed mid-send; session teardown owns cleanup.
	default:
		p.log.Warn().Err(err).
			Str("question_id", questionID.String()).
			Uint64("sequence", answer.Sequence).
			Msg("autosave retries exhausted")
		p.store.MarkFailed(questionID, answer.Sequence)
	}
	p.notifySettled()
}

var errStaleSave = staleSaveError{}

type staleSaveError struct{}

func (staleSaveError) Error() string { return "stale save superseded by newer sequence" }

func (p *Pipeline) notifySettled() {
	select {
	case p.settled <- struct{}{}:
	default:
	}
}

// FlushAll fires every pending debounce window immediately and waits until
// all DIRTY/SAVING answers settle or ctx ends, whichever comes first.
// Returns the answers still unsettled, for the caller to bundle into the
// submission payload so nothing is lost even if autosave never completed.
func (p *Pipeline) FlushAll(ctx context.Context) []model.UserAnswer {
	p.mu.Lock()
	pending := make([]uuid.UUID, 0, len(p.timers))
	for qid := range p.timers {
		pending = append(pending, qid)
	}
	p.mu.Unlock()

	for _, qid := range pending {
		p.dispatch(qid)
	}

	for {
		unsettled := p.store.Unsettled()
		if len(unsettled) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return unsettled
		case <-p.settled:
		}
	}
}

// Close cancels all debounce timers and in-flight sends. Late retries from
// this pipeline can no longer reach the server.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for qid, t := range p.timers {
		t.Stop()
		delete(p.timers, qid)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
