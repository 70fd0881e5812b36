// Package memory provides in-memory implementations of the repository
// contracts. They back the unit tests and mirror the PostgreSQL semantics,
// including the compare-and-swap on session status.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
)

// SessionStore is an in-memory repository.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*model.Session),
		now:      time.Now,
	}
}

// NewSessionStoreWithClock is test-only for deterministic timestamps.
func NewSessionStoreWithClock(now func() time.Time) *SessionStore {
	s := NewSessionStore()
	s.now = now
	return s
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.Questions = append([]model.QuestionSnapshot(nil), s.Questions...)
	if s.Answers != nil {
		c.Answers = make(map[uuid.UUID]model.Answer, len(s.Answers))
		for k, v := range s.Answers {
			c.Answers[k] = v
		}
	}
	if s.CategoryScores != nil {
		c.CategoryScores = make(map[string]model.CategoryScore, len(s.CategoryScores))
		for k, v := range s.CategoryScores {
			c.CategoryScores[k] = v
		}
	}
	return &c
}

func (st *SessionStore) CreateSession(_ context.Context, s *model.Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.sessions {
		if existing.ExamID == s.ExamID && existing.CandidateID == s.CandidateID &&
			existing.Status == model.SessionStatusInProgress {
			return model.ErrAlreadyActive
		}
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Status = model.SessionStatusInProgress
	st.sessions[s.ID] = cloneSession(s)
	return nil
}

func (st *SessionStore) GetSession(_ context.Context, id uuid.UUID, withDetail bool) (*model.Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := cloneSession(s)
	if !withDetail {
		c.Questions = nil
		c.Answers = nil
	}
	return c, nil
}

func (st *SessionStore) GetActiveSession(_ context.Context, examID, candidateID uuid.UUID) (*model.Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, s := range st.sessions {
		if s.ExamID == examID && s.CandidateID == candidateID && s.Status == model.SessionStatusInProgress {
			return cloneSession(s), nil
		}
	}
	return nil, model.ErrNotFound
}

func (st *SessionStore) UpsertAnswer(_ context.Context, a *model.Answer) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[a.SessionID]
	if !ok || s.Status != model.SessionStatusInProgress {
		return model.ErrSessionNotActive
	}
	if s.Answers == nil {
		s.Answers = make(map[uuid.UUID]model.Answer)
	}
	stored := *a
	stored.UpdatedAt = st.now()
	s.Answers[a.QuestionID] = stored
	return nil
}

func (st *SessionStore) TransitionStatus(_ context.Context, id uuid.UUID, to model.SessionStatus, completedAt time.Time, timeSpentSeconds int) (*model.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if s.Status != model.SessionStatusInProgress {
		return nil, model.ErrStorageConflict
	}
	s.Status = to
	at := completedAt
	s.CompletedAt = &at
	s.TimeSpentSeconds = timeSpentSeconds
	return cloneSession(s), nil
}

func (st *SessionStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]model.Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var overdue []model.Session
	for _, s := range st.sessions {
		if s.Status == model.SessionStatusInProgress && !s.Deadline.After(now) {
			overdue = append(overdue, *cloneSession(s))
		}
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].Deadline.Before(overdue[j].Deadline) })
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

func (st *SessionStore) SaveScores(_ context.Context, id uuid.UUID, score, maxScore, percentage int, passed bool, categoryScores map[string]model.CategoryScore) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return model.ErrNotFound
	}
	sc, ms, pct, pd := score, maxScore, percentage, passed
	s.Score = &sc
	s.MaxScore = &ms
	s.Percentage = &pct
	s.Passed = &pd
	s.CategoryScores = categoryScores
	return nil
}

// rankable orders terminal scored sessions: score desc, time_spent asc,
// completed_at asc.
func rankLess(a, b *model.Session) bool {
	if *a.Score != *b.Score {
		return *a.Score > *b.Score
	}
	if a.TimeSpentSeconds != b.TimeSpentSeconds {
		return a.TimeSpentSeconds < b.TimeSpentSeconds
	}
	return a.CompletedAt.Before(*b.CompletedAt)
}

func rankEqual(a, b *model.Session) bool {
	return *a.Score == *b.Score &&
		a.TimeSpentSeconds == b.TimeSpentSeconds &&
		a.CompletedAt.Equal(*b.CompletedAt)
}

func (st *SessionStore) RecomputeRanks(_ context.Context, examID uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var ranked []*model.Session
	for _, s := range st.sessions {
		if s.ExamID != examID || s.Score == nil {
			continue
		}
		if s.Status == model.SessionStatusCompleted || s.Status == model.SessionStatusTimedOut {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return rankLess(ranked[i], ranked[j]) })

	for i, s := range ranked {
		rank := i + 1
		if i > 0 && rankEqual(s, ranked[i-1]) {
			rank = *ranked[i-1].Rank
		}
		r := rank
		s.Rank = &r
	}
	return nil
}

func (st *SessionStore) ListSessions(_ context.Context, f model.SessionFilter) ([]model.Session, int64, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var matched []model.Session
	for _, s := range st.sessions {
		if f.ExamID != nil && s.ExamID != *f.ExamID {
			continue
		}
		if f.CandidateID != nil && s.CandidateID != *f.CandidateID {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		c := cloneSession(s)
		c.Questions = nil
		c.Answers = nil
		matched = append(matched, *c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	total := int64(len(matched))
	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (st *SessionStore) ListRanked(_ context.Context, examID uuid.UUID) ([]model.RankedSession, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var ranked []model.RankedSession
	for _, s := range st.sessions {
		if s.ExamID != examID || s.Rank == nil || s.Score == nil {
			continue
		}
		if s.Status != model.SessionStatusCompleted && s.Status != model.SessionStatusTimedOut {
			continue
		}
		ranked = append(ranked, model.RankedSession{
			Rank:             *s.Rank,
			SessionID:        s.ID,
			CandidateID:      s.CandidateID,
			Score:            *s.Score,
			MaxScore:         *s.MaxScore,
			Percentage:       *s.Percentage,
			TimeSpentSeconds: s.TimeSpentSeconds,
			CompletedAt:      *s.CompletedAt,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Rank != ranked[j].Rank {
			return ranked[i].Rank < ranked[j].Rank
		}
		return ranked[i].CompletedAt.Before(ranked[j].CompletedAt)
	})
	return ranked, nil
}

func (st *SessionStore) GetExamStats(_ context.Context, examID uuid.UUID, passingScore int) (*model.ExamStats, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stats := &model.ExamStats{ExamID: examID}
	var sum float64
	for _, s := range st.sessions {
		if s.ExamID != examID || s.Score == nil {
			continue
		}
		if s.Status != model.SessionStatusCompleted && s.Status != model.SessionStatusTimedOut {
			continue
		}
		stats.TotalSessions++
		sum += float64(*s.Percentage)
		if *s.Percentage >= passingScore {
			stats.Passed++
		}
	}
	if stats.TotalSessions > 0 {
		stats.AverageScore = sum / float64(stats.TotalSessions)
	}
	stats.Failed = stats.TotalSessions - stats.Passed
	return stats, nil
}
