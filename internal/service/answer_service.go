package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository"
	"github.com/rs/zerolog"
)

// AnswerService records per-question submissions against a live session.
// It never touches the session status; the deadline check here is only a
// fast-path rejection, the authoritative timeout belongs to the enforcer.
type AnswerService struct {
	sessions repository.SessionStore
	log      zerolog.Logger
	now      func() time.Time
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(sessions repository.SessionStore, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		sessions: sessions,
		log:      log.With().Str("component", "answer_service").Logger(),
		now:      time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *AnswerService) WithClock(now func() time.Time) *AnswerService {
	s.now = now
	return s
}

// Submit upserts the candidate's answer for one question. Last write wins;
// repeated submissions are normal (candidates revise answers). A nil option
// clears a previous answer, flagging works independently of the selection.
func (s *AnswerService) Submit(ctx context.Context, sessionID, candidateID uuid.UUID, req model.SubmitAnswerRequest) (*model.Answer, error) {
	session, err := s.sessions.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if session.CandidateID != candidateID {
		return nil, model.ErrNotFound
	}

	if session.Status != model.SessionStatusInProgress {
		return nil, model.ErrSessionNotActive
	}
	if s.now().After(session.Deadline) {
		// Overdue but not yet swept; reject rather than transition here.
		return nil, model.ErrSessionNotActive
	}

	snap := session.SnapshotFor(req.QuestionID)
	if snap == nil {
		return nil, model.ErrUnknownQuestion
	}
	if req.SelectedOptionID != nil && !snapshotHasOption(snap, *req.SelectedOptionID) {
		return nil, model.ErrUnknownQuestion
	}

	answer := &model.Answer{
		SessionID:        sessionID,
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.SelectedOptionID,
		IsFlagged:        req.IsFlagged,
	}
	if err := s.sessions.UpsertAnswer(ctx, answer); err != nil {
		// The store guard re-checks the status, so a write racing the
		// terminal CAS still loses. Accepted behavior at the boundary.
		return nil, fmt.Errorf("record answer: %w", err)
	}

	answer.UpdatedAt = s.now()
	return answer, nil
}

func snapshotHasOption(snap *model.QuestionSnapshot, optionID uuid.UUID) bool {
	for _, o := range snap.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}
