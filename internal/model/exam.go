package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the lifecycle states of an exam definition.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusStarted   ExamStatus = "STARTED"
	ExamStatusFinished  ExamStatus = "FINISHED"
)

// ExamDefinition is the exam configuration supplied by the catalog.
// Immutable once sessions reference it, except by administrative edit.
type ExamDefinition struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration_minutes"`
	QuestionCount   int            `json:"question_count"`
	PassingScore    int            `json:"passing_score"` // percent, 0-100
	Randomize       bool           `json:"randomize"`
	OpensAt         *time.Time     `json:"opens_at,omitempty"`
	ClosesAt        *time.Time     `json:"closes_at,omitempty"`
	CategoryMix     map[string]int `json:"category_mix,omitempty"` // category -> question count
	Difficulty      *Difficulty    `json:"difficulty,omitempty"`
	Status          ExamStatus     `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Joinable reports whether sessions may be allocated for this exam at t.
func (e *ExamDefinition) Joinable(t time.Time) bool {
	if e.Status != ExamStatusPublished && e.Status != ExamStatusStarted {
		return false
	}
	if e.OpensAt != nil && t.Before(*e.OpensAt) {
		return false
	}
	if e.ClosesAt != nil && t.After(*e.ClosesAt) {
		return false
	}
	return true
}

// Deadline computes the hard wall-clock deadline for a session started at t:
// started_at + duration, clamped to the exam's closing time.
func (e *ExamDefinition) Deadline(t time.Time) time.Time {
	d := t.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.ClosesAt != nil && d.After(*e.ClosesAt) {
		return *e.ClosesAt
	}
	return d
}

// ExamStats aggregates terminal sessions of one exam for dashboards.
type ExamStats struct {
	ExamID        uuid.UUID `json:"exam_id"`
	TotalSessions int       `json:"total_sessions"`
	AverageScore  float64   `json:"average_score"` // mean percentage
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
}
