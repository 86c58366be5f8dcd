package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/engine"
	"github.com/stemsi/examflow/internal/examapi"
	"github.com/stemsi/examflow/internal/middleware"
	"github.com/stemsi/examflow/internal/model"
	"github.com/stemsi/examflow/internal/response"
	"github.com/stemsi/examflow/internal/validator"
	"github.com/stemsi/examflow/internal/websocket"
)

// SessionHandler exposes the exam session engine over HTTP.
type SessionHandler struct {
	manager *engine.Manager
	log     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *engine.Manager, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		log:     log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSessionRequest is the payload for starting an attempt.
type StartSessionRequest struct {
	PaperID uuid.UUID `json:"paper_id" binding:"required"`
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/sessions
// Creates a timed attempt. Replaces any previous attempt of the same user.
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.manager.Start(c.Request.Context(), examID, req.PaperID, claims.UserID)
	if err != nil {
		var creation *engine.SessionCreationError
		if errors.As(err, &creation) {
			switch creation.Code {
			case engine.CreationNotYetOpen:
				response.Fail(c, http.StatusConflict, response.ErrExamNotYetOpen)
			case engine.CreationAlreadyClosed:
				response.Fail(c, http.StatusConflict, response.ErrExamAlreadyClosed)
			case engine.CreationAlreadySubmitted:
				response.Fail(c, http.StatusConflict, response.ErrExamAlreadySubmitted)
			}
			return
		}
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("start session failed")
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session.State()})
}

// GetState godoc
// GET /api/v1/student/sessions/current
// Returns the full UI snapshot: status, remaining time, cursor, save states.
func (h *SessionHandler) GetState(c *gin.Context) {
	session, ok := h.currentSession(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session.State()})
}

// AnswerRequest is the payload for capturing an answer.
type AnswerRequest struct {
	Value model.AnswerValue `json:"value" binding:"required"`
}

// SaveAnswer godoc
// PUT /api/v1/student/sessions/current/answers/:question_id
// Captures a local answer mutation; autosave happens asynchronously.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	session, ok := h.currentSession(c)
	if !ok {
		return
	}

	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := session.Answer(questionID, req.Value)
	switch {
	case errors.Is(err, engine.ErrSessionNotInProgress):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotInProgress)
		return
	case errors.Is(err, engine.ErrUnknownQuestion):
		response.Fail(c, http.StatusNotFound, response.ErrUnknownQuestion)
		return
	case err != nil:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// NavigateRequest is the payload for moving the question cursor.
type NavigateRequest struct {
	Op    websocket.NavOp `json:"op" binding:"required,oneof=next previous goto"`
	Index int             `json:"index" binding:"min=0"`
}

// Navigate godoc
// POST /api/v1/student/sessions/current/navigation
// Pure local cursor movement; never fails on bounds, it clamps.
func (h *SessionHandler) Navigate(c *gin.Context) {
	session, ok := h.currentSession(c)
	if !ok {
		return
	}

	var req NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	switch req.Op {
	case websocket.NavOpNext:
		session.Next()
	case websocket.NavOpPrevious:
		session.Previous()
	case websocket.NavOpGoTo:
		session.GoTo(req.Index)
	}

	state := session.State()
	response.Success(c, http.StatusOK, gin.H{
		"current_index":  state.CurrentIndex,
		"answered_count": state.AnsweredCount,
		"progress":       state.Progress,
	})
}

// Submit godoc
// POST /api/v1/student/sessions/current/submit
// Idempotent: a double-click or a concurrent countdown expiry still yields
// exactly one submission. 202 with a provisional score when unconfirmed.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	result, err := h.manager.Submit(c.Request.Context(), claims.UserID, model.SubmitReasonManual)
	if err != nil {
		h.failSubmit(c, claims.UserID, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// RetrySubmit godoc
// POST /api/v1/student/sessions/current/submit/retry
// Resumes a pending submission with the same idempotency key.
func (h *SessionHandler) RetrySubmit(c *gin.Context) {
	h.Submit(c)
}

func (h *SessionHandler) failSubmit(c *gin.Context, userID int, err error) {
	switch {
	case errors.Is(err, engine.ErrNoActiveSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
	case errors.Is(err, engine.ErrSubmissionPending):
		// Keep the optimistic score visible while the confirmation is
		// outstanding; it is clearly labeled provisional.
		body := gin.H{}
		if session, ok := h.manager.Current(userID); ok {
			body["provisional"] = session.Provisional()
		}
		body["status"] = model.SessionStatusSubmitting
		response.Success(c, http.StatusAccepted, gin.H{
			"submission": body,
			"notice":     response.GetMessage(response.ErrSubmissionPending),
		})
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// GetResult godoc
// GET /api/v1/student/sessions/:session_id/result
// Recovers a result after a reload: live session, Redis cache, then the
// grading service, which returns the identical result for the session id.
func (h *SessionHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.manager.Result(c.Request.Context(), sessionID)
	if err != nil {
		if examapi.CodeOf(err) == examapi.CodeNotFound || errors.Is(err, engine.ErrResultNotReady) {
			response.Fail(c, http.StatusNotFound, response.ErrResultNotReady)
			return
		}
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("result lookup failed")
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetRemainingTime godoc
// GET /api/v1/student/sessions/:session_id/remaining
// Redis-first failover: live countdown, cached deadline, collaborator.
func (h *SessionHandler) GetRemainingTime(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	remaining, err := h.manager.RemainingTime(c.Request.Context(), sessionID)
	if err != nil {
		if examapi.CodeOf(err) == examapi.CodeNotFound {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"remaining_seconds": int(remaining / time.Second),
	})
}

// currentSession resolves the caller's active session or writes the error.
func (h *SessionHandler) currentSession(c *gin.Context) (*engine.Session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	session, ok := h.manager.Current(claims.UserID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return nil, false
	}
	return session, true
}
