package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
)

// ExamCatalog supplies exam definitions. The engine never mutates them.
type ExamCatalog interface {
	GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// QuestionBank samples eligible questions for session allocation.
type QuestionBank interface {
	// SampleQuestions returns active questions in bank order, honoring the
	// exam's category mix (nil mix = free draw) and optional difficulty,
	// excluding excludeIDs. It may return fewer than count; the allocator
	// decides whether that is fatal.
	SampleQuestions(ctx context.Context, mix map[string]int, difficulty *model.Difficulty, count int, excludeIDs []uuid.UUID) ([]model.Question, error)

	// IncrementUsage bumps usage counters for drawn questions. Best effort.
	IncrementUsage(ctx context.Context, ids []uuid.UUID) error
}

// SessionStore is the persistence boundary shared by the allocator, the
// recorder, the enforcer and the scoring engine. It is the only place
// where concurrent mutation of a session is resolved.
type SessionStore interface {
	// CreateSession persists the session row and its question snapshots
	// atomically. Returns model.ErrAlreadyActive if an in_progress session
	// already exists for the (candidate, exam) pair.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession loads a session; withDetail adds snapshots and answers.
	// Returns model.ErrNotFound if it does not exist.
	GetSession(ctx context.Context, id uuid.UUID, withDetail bool) (*model.Session, error)

	// GetActiveSession finds the in_progress session for a pair, or
	// model.ErrNotFound.
	GetActiveSession(ctx context.Context, examID, candidateID uuid.UUID) (*model.Session, error)

	// UpsertAnswer writes the latest answer for (session, question).
	// Last write wins. Rejected with model.ErrSessionNotActive once the
	// session has left in_progress.
	UpsertAnswer(ctx context.Context, a *model.Answer) error

	// TransitionStatus is the single compare-and-swap that linearizes
	// terminal transitions: in_progress -> to. Returns the updated session
	// on success, model.ErrStorageConflict when another actor already
	// flipped the status.
	TransitionStatus(ctx context.Context, id uuid.UUID, to model.SessionStatus, completedAt time.Time, timeSpentSeconds int) (*model.Session, error)

	// ListOverdue returns in_progress sessions whose deadline passed.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Session, error)

	// SaveScores writes the scoring result for a terminal session.
	SaveScores(ctx context.Context, id uuid.UUID, score, maxScore, percentage int, passed bool, categoryScores map[string]model.CategoryScore) error

	// RecomputeRanks re-ranks all completed/timed_out sessions of an exam
	// by score desc, time_spent asc, completed_at asc.
	RecomputeRanks(ctx context.Context, examID uuid.UUID) error

	// ListSessions is a read-only projection for dashboards.
	ListSessions(ctx context.Context, f model.SessionFilter) ([]model.Session, int64, error)

	// ListRanked returns the ranked terminal sessions of one exam.
	ListRanked(ctx context.Context, examID uuid.UUID) ([]model.RankedSession, error)

	// GetExamStats aggregates terminal sessions of one exam.
	GetExamStats(ctx context.Context, examID uuid.UUID, passingScore int) (*model.ExamStats, error)
}
