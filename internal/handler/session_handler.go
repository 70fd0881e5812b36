package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/middleware"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/response"
	"github.com/oaib/exam-engine/internal/service"
	"github.com/oaib/exam-engine/internal/validator"
	"github.com/rs/zerolog"
)

// SessionHandler handles candidate-facing session endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
	answerService  *service.AnswerService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.SessionService,
	answerService *service.AnswerService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		answerService:  answerService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/candidate/exams/:exam_id/start
// Allocates a session for the exam, or resumes the existing one (idempotent).
func (h *SessionHandler) Start(c *gin.Context) {
	candidateID, ok := h.candidate(c)
	if !ok {
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := h.sessionService.Start(c.Request.Context(), candidateID, examID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrAlreadyActive):
			// Resume, not a failure. The existing session comes back whole.
			response.Success(c, http.StatusOK, gin.H{"session": session, "resumed": true})
		case errors.Is(err, model.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, model.ErrExamNotAvailable):
			response.Fail(c, http.StatusConflict, response.ErrExamNotAvailable)
		case errors.Is(err, model.ErrInsufficientQuestions):
			response.Fail(c, http.StatusConflict, response.ErrInsufficientQuestions)
		default:
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Session start failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session, "resumed": false})
}

// Get godoc
// GET /api/v1/candidate/sessions/:session_id
// Returns the session with its frozen questions and current answers.
// Covers page reloads so the frontend can restore answers and the countdown.
func (h *SessionHandler) Get(c *gin.Context) {
	candidateID, ok := h.candidate(c)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		} else {
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Session fetch failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// SubmitAnswer godoc
// POST /api/v1/candidate/sessions/:session_id/answers
// Upserts the answer for one question. Last write wins.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	candidateID, ok := h.candidate(c)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.answerService.Submit(c.Request.Context(), sessionID, candidateID, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, model.ErrSessionNotActive):
			response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
		case errors.Is(err, model.ErrUnknownQuestion):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrUnknownQuestion)
		default:
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Answer submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// Finish godoc
// POST /api/v1/candidate/sessions/:session_id/finish
// Completes the session and queues it for scoring. Idempotent.
func (h *SessionHandler) Finish(c *gin.Context) {
	h.terminate(c, h.sessionService.Finish)
}

// Abandon godoc
// POST /api/v1/candidate/sessions/:session_id/abandon
// Explicitly withdraws from the session. Scored like a finish.
func (h *SessionHandler) Abandon(c *gin.Context) {
	h.terminate(c, h.sessionService.Abandon)
}

func (h *SessionHandler) terminate(c *gin.Context, op func(ctx context.Context, sessionID, candidateID uuid.UUID) (*model.Session, error)) {
	candidateID, ok := h.candidate(c)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	session, err := op(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		} else {
			h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Session terminate failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// candidate pulls the authenticated candidate ID out of the JWT claims.
func (h *SessionHandler) candidate(c *gin.Context) (uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, false
	}
	candidateID, err := claims.Candidate()
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return uuid.Nil, false
	}
	return candidateID, true
}
