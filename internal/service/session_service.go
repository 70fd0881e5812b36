package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SessionService allocates sessions and owns the client-initiated terminal
// transitions (finish, abandon). The timeout transition belongs to the
// enforcer worker; both paths race on the same store-level CAS.
type SessionService struct {
	sessions repository.SessionStore
	catalog  repository.ExamCatalog
	bank     repository.QuestionBank
	rdb      *redis.Client
	log      zerolog.Logger
	now      func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions repository.SessionStore,
	catalog repository.ExamCatalog,
	bank repository.QuestionBank,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		catalog:  catalog,
		bank:     bank,
		rdb:      rdb,
		log:      log.With().Str("component", "session_service").Logger(),
		now:      time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// Start allocates a session for (candidate, exam): checks availability,
// materializes the frozen question set and computes the server-side deadline.
// If an in_progress session already exists it is returned together with
// model.ErrAlreadyActive so reconnecting candidates resume instead of
// duplicating attempts.
func (s *SessionService) Start(ctx context.Context, candidateID, examID uuid.UUID) (*model.Session, error) {
	exam, err := s.catalog.GetExamDefinition(ctx, examID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	now := s.now()
	if !exam.Joinable(now) {
		return nil, model.ErrExamNotAvailable
	}

	if existing, err := s.sessions.GetActiveSession(ctx, examID, candidateID); err == nil {
		if err := s.loadExistingDetail(ctx, existing); err != nil {
			return nil, err
		}
		return existing, model.ErrAlreadyActive
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("check active session: %w", err)
	}

	nonce := uuid.New()
	questions, err := s.selectQuestions(ctx, exam, candidateID, nonce)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		ExamID:        examID,
		CandidateID:   candidateID,
		CreationNonce: nonce,
		StartedAt:     now,
		Deadline:      exam.Deadline(now),
		Status:        model.SessionStatusInProgress,
		Questions:     make([]model.QuestionSnapshot, 0, len(questions)),
	}
	for i, q := range questions {
		session.Questions = append(session.Questions, model.QuestionSnapshot{
			QuestionID:      q.ID,
			Ord:             i,
			Text:            q.Text,
			Category:        q.Category,
			Points:          q.Points,
			Options:         q.Options,
			CorrectOptionID: q.CorrectOptionID,
		})
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		if errors.Is(err, model.ErrAlreadyActive) {
			// Concurrent start won the race; resume its session.
			existing, fetchErr := s.sessions.GetActiveSession(ctx, examID, candidateID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			if err := s.loadExistingDetail(ctx, existing); err != nil {
				return nil, err
			}
			return existing, model.ErrAlreadyActive
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	if err := s.bank.IncrementUsage(ctx, ids); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Usage counter update failed")
	}

	return session, nil
}

func (s *SessionService) loadExistingDetail(ctx context.Context, session *model.Session) error {
	detailed, err := s.sessions.GetSession(ctx, session.ID, true)
	if err != nil {
		return fmt.Errorf("load session detail: %w", err)
	}
	*session = *detailed
	return nil
}

// selectQuestions draws the frozen question set without replacement. A
// short bank fails the allocation: the exam is never silently degraded.
func (s *SessionService) selectQuestions(ctx context.Context, exam *model.ExamDefinition, candidateID uuid.UUID, nonce uuid.UUID) ([]model.Question, error) {
	// A category mix defines the draw outright. Its counts are expected to
	// sum to the exam's configured total; nothing is truncated afterwards,
	// so every category receives exactly its configured share.
	want := exam.QuestionCount
	if len(exam.CategoryMix) > 0 {
		want = 0
		for _, n := range exam.CategoryMix {
			want += n
		}
	}

	questions, err := s.bank.SampleQuestions(ctx, exam.CategoryMix, exam.Difficulty, want, nil)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	if len(questions) < want {
		return nil, model.ErrInsufficientQuestions
	}

	if exam.Randomize {
		rng := rand.New(rand.NewSource(shuffleSeed(candidateID, exam.ID, nonce)))
		rng.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	return questions, nil
}

// shuffleSeed derives the deterministic shuffle seed from the candidate, the
// exam and the session's creation nonce. Reproducible for auditing, not
// predictable before the nonce exists.
func shuffleSeed(candidateID, examID, nonce uuid.UUID) int64 {
	h := sha256.New()
	h.Write(candidateID[:])
	h.Write(examID[:])
	h.Write(nonce[:])
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// Finish completes a session on the candidate's request. Idempotent: if the
// enforcer (or another Finish) already terminated the session, the existing
// terminal session is returned unchanged.
func (s *SessionService) Finish(ctx context.Context, sessionID, candidateID uuid.UUID) (*model.Session, error) {
	return s.terminate(ctx, sessionID, candidateID, model.SessionStatusCompleted)
}

// Abandon is the candidate's explicit withdrawal. Same CAS as Finish; the
// session is scored with whatever answers exist.
func (s *SessionService) Abandon(ctx context.Context, sessionID, candidateID uuid.UUID) (*model.Session, error) {
	return s.terminate(ctx, sessionID, candidateID, model.SessionStatusAbandoned)
}

func (s *SessionService) terminate(ctx context.Context, sessionID, candidateID uuid.UUID, to model.SessionStatus) (*model.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	if session.CandidateID != candidateID {
		return nil, model.ErrNotFound
	}

	// The deadline is a hard wall: a finish arriving after it is stamped at
	// the deadline, exactly as the enforcer would have.
	completedAt := s.now()
	if completedAt.After(session.Deadline) {
		completedAt = session.Deadline
	}
	timeSpent := int(completedAt.Sub(session.StartedAt).Seconds())

	updated, err := s.sessions.TransitionStatus(ctx, sessionID, to, completedAt, timeSpent)
	if err != nil {
		if errors.Is(err, model.ErrStorageConflict) {
			// Lost the race against the enforcer or a concurrent call.
			return s.sessions.GetSession(ctx, sessionID, false)
		}
		return nil, fmt.Errorf("terminate session: %w", err)
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.ScoreSessionsQueue, updated.ID.String()).Err(); err != nil {
		// The sweep-side requeue cannot help here; surface loudly.
		s.log.Error().Err(err).Str("session_id", updated.ID.String()).Msg("Failed to enqueue scoring")
	}

	return updated, nil
}

// Get returns a session with its frozen questions and current answers.
// candidateID guards against cross-candidate reads; uuid.Nil skips the
// check for admin projections.
func (s *SessionService) Get(ctx context.Context, sessionID, candidateID uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	if candidateID != uuid.Nil && session.CandidateID != candidateID {
		return nil, model.ErrNotFound
	}
	return session, nil
}

// List is the dashboard projection over sessions.
func (s *SessionService) List(ctx context.Context, f model.SessionFilter) ([]model.Session, int64, error) {
	return s.sessions.ListSessions(ctx, f)
}
