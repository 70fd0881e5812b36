package model

import "github.com/google/uuid"

// Difficulty grades a bank question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Option is a possible answer to a multiple-choice question.
type Option struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
	Ord  int       `json:"ord"`
}

// Question is a live bank question. Sessions never reference these
// directly; they get a QuestionSnapshot frozen at allocation time.
type Question struct {
	ID               uuid.UUID  `json:"id"`
	Category         string     `json:"category"`
	Difficulty       Difficulty `json:"difficulty"`
	Text             string     `json:"text"`
	Points           int        `json:"points"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	Options          []Option   `json:"options"`
	CorrectOptionID  uuid.UUID  `json:"-"`
	IsActive         bool       `json:"is_active"`
	UsageCount       int        `json:"usage_count"`
}
