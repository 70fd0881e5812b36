package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oaib/exam-engine/internal/middleware"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/service"
	ws "github.com/oaib/exam-engine/internal/websocket"
	"github.com/rs/zerolog"
)

// StateTickInterval is how often the server pushes the authoritative
// countdown to connected candidates.
const StateTickInterval = 5 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
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

// WSHandler streams the session countdown over WebSocket. The server
// clock is the only truth here; clients reconcile against these frames
// instead of trusting their own timers.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/candidate/sessions/:session_id/stream
// Upgrades to WebSocket and pushes session state until the session ends.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	candidateID, err := claims.Candidate()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	// Ownership check before streaming anything.
	session, err := h.sessionService.Get(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		conn.WriteError("no such session")
		return
	}

	wsLog := h.log.With().
		Str("candidate_id", candidateID.String()).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Candidate connected")

	conn.WriteTyped(buildState(session))
	if session.Status.Terminal() {
		conn.WriteTyped(ws.ClosedResponse{Event: ws.EventClosed, Status: string(session.Status)})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.tickLoop(ctx, cancel, conn, sessionID, candidateID, wsLog)

	for {
		var msg ws.RequestEnvelope
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		case ws.ActionState:
			h.pushState(ctx, conn, sessionID, candidateID)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// tickLoop pushes state frames until the session reaches a terminal
// status or the connection goes away.
func (h *WSHandler) tickLoop(ctx context.Context, cancel context.CancelFunc, conn *ws.Conn, sessionID, candidateID uuid.UUID, wsLog zerolog.Logger) {
	ticker := time.NewTicker(StateTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session, err := h.sessionService.Get(ctx, sessionID, candidateID)
			if err != nil {
				wsLog.Warn().Err(err).Msg("State refresh failed")
				continue
			}
			if err := conn.WriteTyped(buildState(session)); err != nil {
				cancel()
				return
			}
			if session.Status.Terminal() {
				conn.WriteTyped(ws.ClosedResponse{Event: ws.EventClosed, Status: string(session.Status)})
				cancel()
				return
			}
		}
	}
}

func (h *WSHandler) pushState(ctx context.Context, conn *ws.Conn, sessionID, candidateID uuid.UUID) {
	session, err := h.sessionService.Get(ctx, sessionID, candidateID)
	if err != nil {
		conn.WriteError("state unavailable")
		return
	}
	conn.WriteTyped(buildState(session))
}

func buildState(session *model.Session) ws.StateResponse {
	remaining := int(time.Until(session.Deadline).Seconds())
	if remaining < 0 || session.Status.Terminal() {
		remaining = 0
	}

	answered := 0
	for _, a := range session.Answers {
		if a.SelectedOptionID != nil {
			answered++
		}
	}

	return ws.StateResponse{
		Event:            ws.EventState,
		Status:           string(session.Status),
		RemainingSeconds: remaining,
		AnsweredCount:    answered,
		QuestionCount:    len(session.Questions),
	}
}
