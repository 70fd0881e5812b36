package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oaib/exam-engine/internal/model"
)

// ExamRepository reads exam definitions from PostgreSQL.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetExamDefinition retrieves one exam definition by ID.
func (r *ExamRepository) GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	var mixRaw []byte

	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, question_count, passing_score,
		        randomize, opens_at, closes_at, category_mix, difficulty,
		        status, created_at
		 FROM exams
		 WHERE id = $1`, examID,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.QuestionCount, &e.PassingScore,
		&e.Randomize, &e.OpensAt, &e.ClosesAt, &mixRaw, &e.Difficulty,
		&e.Status, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if len(mixRaw) > 0 {
		if err := json.Unmarshal(mixRaw, &e.CategoryMix); err != nil {
			return nil, fmt.Errorf("decode category mix: %w", err)
		}
	}

	return e, nil
}
