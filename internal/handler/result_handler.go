package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/response"
	"github.com/oaib/exam-engine/internal/service"
	"github.com/rs/zerolog"
)

// ResultHandler handles admin-facing session projections, leaderboards
// and exam statistics.
type ResultHandler struct {
	sessionService *service.SessionService
	scoringService *service.ScoringService
	log            zerolog.Logger
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(
	sessionService *service.SessionService,
	scoringService *service.ScoringService,
	log zerolog.Logger,
) *ResultHandler {
	return &ResultHandler{
		sessionService: sessionService,
		scoringService: scoringService,
		log:            log.With().Str("component", "result_handler").Logger(),
	}
}

// ListSessions godoc
// GET /api/v1/admin/sessions?exam_id=&candidate_id=&status=&page=&per_page=
// Paginated session listing for the dashboard.
func (h *ResultHandler) ListSessions(c *gin.Context) {
	filter, ok := parseSessionFilter(c)
	if !ok {
		return
	}

	sessions, total, err := h.sessionService.List(c.Request.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Session list failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if sessions == nil {
		sessions = []model.Session{}
	}

	totalPages := int(total) / filter.PerPage
	if int(total)%filter.PerPage > 0 {
		totalPages++
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions}, &response.Pagination{
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}

// Leaderboard godoc
// GET /api/v1/admin/exams/:exam_id/leaderboard
// Ranked terminal sessions for an exam, cached between completions.
func (h *ResultHandler) Leaderboard(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ranked, err := h.scoringService.Leaderboard(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if ranked == nil {
		ranked = []model.RankedSession{}
	}

	response.Success(c, http.StatusOK, gin.H{"leaderboard": ranked})
}

// Stats godoc
// GET /api/v1/admin/exams/:exam_id/stats
// Aggregates for one exam: attempts, average, pass and fail counts.
func (h *ResultHandler) Stats(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	stats, err := h.scoringService.Stats(c.Request.Context(), examID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		} else {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Stats failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// GetSession godoc
// GET /api/v1/admin/sessions/:session_id
// Full session detail, including answers, for review.
func (h *ResultHandler) GetSession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// uuid.Nil skips the ownership check for the admin projection.
	session, err := h.sessionService.Get(c.Request.Context(), sessionID, uuid.Nil)
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

func parseSessionFilter(c *gin.Context) (model.SessionFilter, bool) {
	var filter model.SessionFilter

	if raw := c.Query("exam_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return filter, false
		}
		filter.ExamID = &id
	}
	if raw := c.Query("candidate_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return filter, false
		}
		filter.CandidateID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := model.SessionStatus(raw)
		switch status {
		case model.SessionStatusInProgress, model.SessionStatusCompleted,
			model.SessionStatusTimedOut, model.SessionStatusAbandoned:
			filter.Status = &status
		default:
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return filter, false
		}
	}

	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	filter.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if filter.PerPage < 1 || filter.PerPage > 100 {
		filter.PerPage = 20
	}

	return filter, true
}
