package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/engine"
	"github.com/stemsi/examflow/internal/middleware"
	"github.com/stemsi/examflow/internal/model"
	ws "github.com/stemsi/examflow/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the exam session: countdown ticks out, answer captures
// and navigation in, over one connection.
type WSHandler struct {
	manager  *engine.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *engine.Manager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// wsConn serializes writes: ticks arrive from the countdown goroutine while
// acks are written from the read loop.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteTyped(c.conn, v)
}

func (c *wsConn) writeError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = ws.WriteError(c.conn, msg)
}

// SessionStream godoc
// WS /ws/v1/student/session/stream
// Upgrades to WebSocket for live countdown and answer capture.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	session, ok := h.manager.Current(claims.UserID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}

	rawConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer rawConn.Close()
	conn := &wsConn{conn: rawConn}

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", session.ID().String()).
		Logger()
	wsLog.Info().Msg("student connected")

	// Reconnecting clients may have slept through ticks; pull the server's
	// countdown view and shift the local baseline if they diverged.
	if err := session.Resync(c.Request.Context()); err != nil {
		wsLog.Warn().Err(err).Msg("countdown resync failed")
	}

	unsubscribe := session.SubscribeTicks(func(remaining time.Duration) {
		_ = conn.write(ws.TickEvent{
			Event:            ws.EventTick,
			RemainingSeconds: int(remaining / time.Second),
		})
	})
	defer unsubscribe()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(rawConn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("unexpected close")
			} else {
				wsLog.Debug().Msg("connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, session, &msg)
		case ws.ActionNavigate:
			h.handleNavigate(conn, session, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, session)
		case ws.ActionPing:
			_ = conn.write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("unknown action")
			conn.writeError("unknown action: " + string(msg.Action))
		}
	}
}

// handleAnswer captures one answer mutation and acks with its sequence.
func (h *WSHandler) handleAnswer(conn *wsConn, session *engine.Session, msg *ws.RequestPayload) {
	if msg.QID == "" || msg.Value == nil {
		conn.writeError("q_id and value are required")
		return
	}

	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.writeError("invalid q_id format")
		return
	}

	answer, err := session.Answer(questionID, *msg.Value)
	switch {
	case errors.Is(err, engine.ErrSessionNotInProgress):
		conn.writeError("session is not in progress")
		return
	case errors.Is(err, engine.ErrUnknownQuestion):
		conn.writeError("unknown question")
		return
	case err != nil:
		conn.writeError("answer capture failed")
		return
	}

	_ = conn.write(ws.SaveStateEvent{
		Event:     ws.EventSaveState,
		QID:       msg.QID,
		Sequence:  answer.Sequence,
		SaveState: answer.SaveState,
	})
}

func (h *WSHandler) handleNavigate(conn *wsConn, session *engine.Session, msg *ws.RequestPayload) {
	switch msg.Op {
	case ws.NavOpNext:
		session.Next()
	case ws.NavOpPrevious:
		session.Previous()
	case ws.NavOpGoTo:
		session.GoTo(msg.Index)
	default:
		conn.writeError("unknown navigation op: " + string(msg.Op))
		return
	}

	state := session.State()
	_ = conn.write(ws.NavigatedEvent{
		Event:         ws.EventNavigated,
		CurrentIndex:  state.CurrentIndex,
		AnsweredCount: state.AnsweredCount,
		Progress:      state.Progress,
	})
}

// handleSubmit drives the manual submission through the manager so the
// confirmed result lands in the recovery cache.
func (h *WSHandler) handleSubmit(conn *wsConn, wsLog zerolog.Logger, session *engine.Session) {
	result, err := h.manager.Submit(context.Background(), session.UserID(), model.SubmitReasonManual)
	if err != nil {
		if errors.Is(err, engine.ErrSubmissionPending) {
			_ = conn.write(ws.PendingEvent{
				Event:   ws.EventPending,
				Message: "submission pending confirmation, do not close this page",
			})
			return
		}
		wsLog.Error().Err(err).Msg("submit failed")
		conn.writeError("submit failed")
		return
	}

	wsLog.Info().Float64("score", result.Score).Msg("exam submitted")
	_ = conn.write(ws.SubmittedEvent{
		Event:  ws.EventSubmitted,
		Status: session.Status(),
		Result: result,
	})
}
