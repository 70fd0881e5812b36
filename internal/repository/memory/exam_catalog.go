package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
)

// ExamCatalog is an in-memory repository.ExamCatalog.
type ExamCatalog struct {
	mu    sync.RWMutex
	exams map[uuid.UUID]model.ExamDefinition
}

func NewExamCatalog() *ExamCatalog {
	return &ExamCatalog{exams: make(map[uuid.UUID]model.ExamDefinition)}
}

// Put registers or replaces an exam definition.
func (c *ExamCatalog) Put(e model.ExamDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exams[e.ID] = e
}

func (c *ExamCatalog) GetExamDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.exams[examID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &e, nil
}
