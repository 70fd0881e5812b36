package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
)

// QuestionBank is an in-memory repository.QuestionBank. Questions keep
// insertion order, which stands in for the bank's natural ordering.
type QuestionBank struct {
	mu        sync.RWMutex
	questions []model.Question
}

func NewQuestionBank(questions ...model.Question) *QuestionBank {
	return &QuestionBank{questions: questions}
}

// Add appends questions to the bank.
func (b *QuestionBank) Add(questions ...model.Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions = append(b.questions, questions...)
}

func (b *QuestionBank) SampleQuestions(_ context.Context, mix map[string]int, difficulty *model.Difficulty, count int, excludeIDs []uuid.UUID) ([]model.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	excluded := make(map[uuid.UUID]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	taken := make(map[string]int)
	var out []model.Question
	for _, q := range b.questions {
		if !q.IsActive || excluded[q.ID] {
			continue
		}
		if difficulty != nil && q.Difficulty != *difficulty {
			continue
		}
		if mix != nil {
			want, ok := mix[q.Category]
			if !ok || taken[q.Category] >= want {
				continue
			}
			taken[q.Category]++
		} else if len(out) >= count {
			break
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *QuestionBank) IncrementUsage(_ context.Context, ids []uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bump := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		bump[id] = true
	}
	for i := range b.questions {
		if bump[b.questions[i].ID] {
			b.questions[i].UsageCount++
		}
	}
	return nil
}
