package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states. in_progress is the only
// mutable state; the three terminal states are immutable once reached.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusTimedOut   SessionStatus = "TIMED_OUT"
	SessionStatusAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether the status forbids further mutation.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTimedOut || s == SessionStatusAbandoned
}

// QuestionSnapshot is the frozen copy of a bank question taken when the
// session was allocated. Later edits to the bank never change past attempts.
type QuestionSnapshot struct {
	QuestionID      uuid.UUID `json:"question_id"`
	Ord             int       `json:"ord"`
	Text            string    `json:"text"`
	Category        string    `json:"category"`
	Points          int       `json:"points"`
	Options         []Option  `json:"options"`
	CorrectOptionID uuid.UUID `json:"-"`
}

// Answer is a candidate's latest submission for one session question.
// One row per (session, question); upserted, never duplicated.
type Answer struct {
	SessionID        uuid.UUID  `json:"session_id"`
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id,omitempty"` // nil = unanswered
	IsFlagged        bool       `json:"is_flagged"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CategoryScore is a per-category subtotal within a scored session.
type CategoryScore struct {
	Score    int `json:"score"`
	MaxScore int `json:"max_score"`
}

// Session is one candidate's timed run through a fixed exam.
//
// The deadline is computed once, server side, at allocation and never
// recalculated from client-supplied elapsed time. Status transitions are
// linearized by a compare-and-swap at the store layer.
type Session struct {
	ID               uuid.UUID                `json:"id"`
	ExamID           uuid.UUID                `json:"exam_id"`
	CandidateID      uuid.UUID                `json:"candidate_id"`
	CreationNonce    uuid.UUID                `json:"-"` // seeds the audit-reproducible shuffle
	StartedAt        time.Time                `json:"started_at"`
	Deadline         time.Time                `json:"deadline"`
	Status           SessionStatus            `json:"status"`
	CompletedAt      *time.Time               `json:"completed_at,omitempty"`
	TimeSpentSeconds int                      `json:"time_spent_seconds"`
	Score            *int                     `json:"score,omitempty"`
	MaxScore         *int                     `json:"max_score,omitempty"`
	Percentage       *int                     `json:"percentage,omitempty"`
	Passed           *bool                    `json:"passed,omitempty"`
	CategoryScores   map[string]CategoryScore `json:"category_scores,omitempty"`
	Rank             *int                     `json:"rank,omitempty"`

	Questions []QuestionSnapshot   `json:"questions,omitempty"`
	Answers   map[uuid.UUID]Answer `json:"answers,omitempty"`
}

// SnapshotFor returns the frozen snapshot for questionID, or nil when the
// question is not part of this session's set.
func (s *Session) SnapshotFor(questionID uuid.UUID) *QuestionSnapshot {
	for i := range s.Questions {
		if s.Questions[i].QuestionID == questionID {
			return &s.Questions[i]
		}
	}
	return nil
}

// Scored reports whether the scoring engine already ran for this session.
func (s *Session) Scored() bool {
	return s.Score != nil
}

// SessionFilter narrows ListSessions projections.
type SessionFilter struct {
	ExamID      *uuid.UUID
	CandidateID *uuid.UUID
	Status      *SessionStatus
	Page        int
	PerPage     int
}

// RankedSession is a leaderboard row: score first, faster finisher wins
// ties, earlier completion breaks the rest.
type RankedSession struct {
	Rank             int       `json:"rank"`
	SessionID        uuid.UUID `json:"session_id"`
	CandidateID      uuid.UUID `json:"candidate_id"`
	Score            int       `json:"score"`
	MaxScore         int       `json:"max_score"`
	Percentage       int       `json:"percentage"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// SubmitAnswerRequest is the payload for answering or flagging a question.
type SubmitAnswerRequest struct {
	QuestionID       uuid.UUID  `json:"question_id" binding:"required"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"` // null clears a previous answer
	IsFlagged        bool       `json:"is_flagged"`
}
