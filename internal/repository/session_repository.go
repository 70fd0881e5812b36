package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oaib/exam-engine/internal/model"
)

// SessionRepository is the PostgreSQL session store. The session row is the
// unit of locking: terminal transitions go through a single conditional
// UPDATE, answers through per-(session, question) upserts.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, candidate_id, creation_nonce, started_at, deadline,
	status, completed_at, time_spent_seconds, score, max_score, percentage,
	passed, category_scores, rank`

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	var catRaw []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.CandidateID, &s.CreationNonce, &s.StartedAt,
		&s.Deadline, &s.Status, &s.CompletedAt, &s.TimeSpentSeconds, &s.Score,
		&s.MaxScore, &s.Percentage, &s.Passed, &catRaw, &s.Rank)
	if err != nil {
		return nil, err
	}
	if len(catRaw) > 0 {
		if err := json.Unmarshal(catRaw, &s.CategoryScores); err != nil {
			return nil, fmt.Errorf("decode category scores: %w", err)
		}
	}
	return s, nil
}

// CreateSession inserts the session row and its frozen question snapshots in
// one transaction. The partial unique index on (exam_id, candidate_id) WHERE
// status = 'IN_PROGRESS' enforces the one-active-attempt invariant; a
// violation surfaces as model.ErrAlreadyActive.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO sessions (exam_id, candidate_id, creation_nonce, started_at, deadline, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		s.ExamID, s.CandidateID, s.CreationNonce, s.StartedAt, s.Deadline, model.SessionStatusInProgress,
	).Scan(&s.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrAlreadyActive
		}
		return fmt.Errorf("insert session: %w", err)
	}
	s.Status = model.SessionStatusInProgress

	rows := make([][]any, 0, len(s.Questions))
	for _, q := range s.Questions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		rows = append(rows, []any{
			s.ID, q.QuestionID, q.Ord, q.Text, q.Category, q.Points, opts, q.CorrectOptionID,
		})
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"session_questions"},
		[]string{"session_id", "question_id", "ord", "text", "category", "points", "options", "correct_option_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy snapshots: %w", err)
	}

	return tx.Commit(ctx)
}

// GetSession loads a session; withDetail adds snapshots and answers.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID, withDetail bool) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if withDetail {
		if err := r.loadDetail(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetActiveSession finds the in_progress session for a (exam, candidate) pair.
func (r *SessionRepository) GetActiveSession(ctx context.Context, examID, candidateID uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE exam_id = $1 AND candidate_id = $2 AND status = $3`,
		examID, candidateID, model.SessionStatusInProgress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) loadDetail(ctx context.Context, s *model.Session) error {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, ord, text, category, points, options, correct_option_id
		 FROM session_questions
		 WHERE session_id = $1
		 ORDER BY ord ASC`, s.ID)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.QuestionSnapshot
		var opts []byte
		if err := rows.Scan(&q.QuestionID, &q.Ord, &q.Text, &q.Category, &q.Points, &opts, &q.CorrectOptionID); err != nil {
			return err
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return fmt.Errorf("decode options: %w", err)
		}
		s.Questions = append(s.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ansRows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option_id, is_flagged, updated_at
		 FROM session_answers
		 WHERE session_id = $1`, s.ID)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}
	defer ansRows.Close()

	s.Answers = make(map[uuid.UUID]model.Answer)
	for ansRows.Next() {
		a := model.Answer{SessionID: s.ID}
		if err := ansRows.Scan(&a.QuestionID, &a.SelectedOptionID, &a.IsFlagged, &a.UpdatedAt); err != nil {
			return err
		}
		s.Answers[a.QuestionID] = a
	}
	return ansRows.Err()
}

// UpsertAnswer writes the latest answer for (session, question), last write
// wins. The INSERT is guarded by the session's live status so any write
// arriving after the terminal CAS is rejected, even mid-flight ones.
func (r *SessionRepository) UpsertAnswer(ctx context.Context, a *model.Answer) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO session_answers (session_id, question_id, selected_option_id, is_flagged, updated_at)
		 SELECT $1, $2, $3, $4, NOW()
		 WHERE EXISTS (
		     SELECT 1 FROM sessions WHERE id = $1 AND status = $5
		 )
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     is_flagged = EXCLUDED.is_flagged,
		     updated_at = NOW()`,
		a.SessionID, a.QuestionID, a.SelectedOptionID, a.IsFlagged, model.SessionStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSessionNotActive
	}
	return nil
}

// TransitionStatus performs the compare-and-swap in_progress -> to. Exactly
// one caller wins; everyone else gets model.ErrStorageConflict and should
// re-read the terminal row.
func (r *SessionRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to model.SessionStatus, completedAt time.Time, timeSpentSeconds int) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE sessions
		 SET status = $2, completed_at = $3, time_spent_seconds = $4
		 WHERE id = $1 AND status = $5
		 RETURNING `+sessionColumns,
		id, to, completedAt, timeSpentSeconds, model.SessionStatusInProgress))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition session: %w", err)
	}

	// CAS lost or unknown id — distinguish for the caller.
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, model.ErrNotFound
	}
	return nil, model.ErrStorageConflict
}

// ListOverdue returns in_progress sessions whose deadline has passed.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE status = $1 AND deadline <= $2
		 ORDER BY deadline ASC
		 LIMIT $3`,
		model.SessionStatusInProgress, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// SaveScores writes the scoring result for a terminal session.
func (r *SessionRepository) SaveScores(ctx context.Context, id uuid.UUID, score, maxScore, percentage int, passed bool, categoryScores map[string]model.CategoryScore) error {
	catRaw, err := json.Marshal(categoryScores)
	if err != nil {
		return fmt.Errorf("encode category scores: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET score = $2, max_score = $3, percentage = $4, passed = $5, category_scores = $6
		 WHERE id = $1`,
		id, score, maxScore, percentage, passed, catRaw)
	if err != nil {
		return fmt.Errorf("save scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RecomputeRanks re-ranks every completed/timed_out scored session of the
// exam in one statement. Abandoned sessions keep a NULL rank.
func (r *SessionRepository) RecomputeRanks(ctx context.Context, examID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions AS s
		 SET rank = t.rnk
		 FROM (
		     SELECT id,
		            RANK() OVER (ORDER BY score DESC, time_spent_seconds ASC, completed_at ASC) AS rnk
		     FROM sessions
		     WHERE exam_id = $1
		       AND status IN ($2, $3)
		       AND score IS NOT NULL
		 ) AS t
		 WHERE s.id = t.id`,
		examID, model.SessionStatusCompleted, model.SessionStatusTimedOut)
	if err != nil {
		return fmt.Errorf("recompute ranks: %w", err)
	}
	return nil
}

// ListSessions retrieves sessions with optional filters and pagination.
func (r *SessionRepository) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.Session, int64, error) {
	base := ` FROM sessions WHERE TRUE`
	args := []any{}

	if f.ExamID != nil {
		args = append(args, *f.ExamID)
		base += fmt.Sprintf(" AND exam_id = $%d", len(args))
	}
	if f.CandidateID != nil {
		args = append(args, *f.CandidateID)
		base += fmt.Sprintf(" AND candidate_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		base += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)
	query := `SELECT ` + sessionColumns + base +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, total, rows.Err()
}

// ListRanked returns the ranked terminal sessions of one exam, best first.
func (r *SessionRepository) ListRanked(ctx context.Context, examID uuid.UUID) ([]model.RankedSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rank, id, candidate_id, score, max_score, percentage, time_spent_seconds, completed_at
		 FROM sessions
		 WHERE exam_id = $1 AND status IN ($2, $3) AND rank IS NOT NULL
		 ORDER BY rank ASC, completed_at ASC`,
		examID, model.SessionStatusCompleted, model.SessionStatusTimedOut)
	if err != nil {
		return nil, fmt.Errorf("list ranked: %w", err)
	}
	defer rows.Close()

	var ranked []model.RankedSession
	for rows.Next() {
		var e model.RankedSession
		if err := rows.Scan(&e.Rank, &e.SessionID, &e.CandidateID, &e.Score, &e.MaxScore,
			&e.Percentage, &e.TimeSpentSeconds, &e.CompletedAt); err != nil {
			return nil, err
		}
		ranked = append(ranked, e)
	}
	return ranked, rows.Err()
}

// GetExamStats aggregates scored terminal sessions of one exam.
func (r *SessionRepository) GetExamStats(ctx context.Context, examID uuid.UUID, passingScore int) (*model.ExamStats, error) {
	stats := &model.ExamStats{ExamID: examID}
	var avg *float64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        AVG(percentage),
		        COUNT(*) FILTER (WHERE percentage >= $2)
		 FROM sessions
		 WHERE exam_id = $1 AND status IN ($3, $4) AND score IS NOT NULL`,
		examID, passingScore, model.SessionStatusCompleted, model.SessionStatusTimedOut,
	).Scan(&stats.TotalSessions, &avg, &stats.Passed)
	if err != nil {
		return nil, fmt.Errorf("exam stats: %w", err)
	}
	if avg != nil {
		stats.AverageScore = *avg
	}
	stats.Failed = stats.TotalSessions - stats.Passed
	return stats, nil
}
