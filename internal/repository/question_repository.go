package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oaib/exam-engine/internal/model"
)

// QuestionRepository is the PostgreSQL-backed question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// SampleQuestions draws active questions in bank order (created_at, id).
// With a category mix, each category is capped at its configured count;
// otherwise the first count eligible questions are returned. The draw is
// without replacement; fewer rows than requested is the caller's problem.
func (r *QuestionRepository) SampleQuestions(ctx context.Context, mix map[string]int, difficulty *model.Difficulty, count int, excludeIDs []uuid.UUID) ([]model.Question, error) {
	if mix == nil {
		return r.sample(ctx, "", difficulty, count, excludeIDs)
	}

	// Map iteration order is random; walk the mix categories sorted so
	// randomize=false exams freeze the same order on every allocation.
	categories := make([]string, 0, len(mix))
	for category := range mix {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	out := make([]model.Question, 0, count)
	for _, category := range categories {
		qs, err := r.sample(ctx, category, difficulty, mix[category], excludeIDs)
		if err != nil {
			return nil, err
		}
		out = append(out, qs...)
	}
	return out, nil
}

func (r *QuestionRepository) sample(ctx context.Context, category string, difficulty *model.Difficulty, limit int, excludeIDs []uuid.UUID) ([]model.Question, error) {
	query := `
		SELECT id, category, difficulty, text, points, time_limit_seconds, usage_count
		FROM questions
		WHERE is_active = TRUE
		  AND id <> ALL($1)
	`
	args := []any{excludeIDsOrEmpty(excludeIDs)}

	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if difficulty != nil {
		args = append(args, *difficulty)
		query += fmt.Sprintf(" AND difficulty = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		q.IsActive = true
		if err := rows.Scan(&q.ID, &q.Category, &q.Difficulty, &q.Text, &q.Points, &q.TimeLimitSeconds, &q.UsageCount); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range questions {
		if err := r.loadOptions(ctx, &questions[i]); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

func (r *QuestionRepository) loadOptions(ctx context.Context, q *model.Question) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, text, ord, is_correct
		 FROM question_options
		 WHERE question_id = $1
		 ORDER BY ord ASC`, q.ID,
	)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Option
		var correct bool
		if err := rows.Scan(&o.ID, &o.Text, &o.Ord, &correct); err != nil {
			return err
		}
		if correct {
			q.CorrectOptionID = o.ID
		}
		q.Options = append(q.Options, o)
	}
	return rows.Err()
}

// IncrementUsage bumps usage counters for the drawn questions in one round trip.
func (r *QuestionRepository) IncrementUsage(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE questions SET usage_count = usage_count + 1 WHERE id = ANY($1)`, ids)
	return err
}

// excludeIDsOrEmpty keeps <> ALL($1) valid when there is nothing to exclude.
func excludeIDsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
