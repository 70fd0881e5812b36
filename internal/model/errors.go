package model

import "errors"

// Sentinel errors shared across the repository and service layers. Handlers
// map them onto API error codes; wrap with %w so errors.Is keeps working.
var (
	// ErrAlreadyActive: an in_progress session already exists for the
	// (candidate, exam) pair. Carries the existing session alongside.
	ErrAlreadyActive = errors.New("session already active")

	// ErrExamNotAvailable: the exam is unpublished or outside its window.
	ErrExamNotAvailable = errors.New("exam not available")

	// ErrInsufficientQuestions: the bank cannot satisfy the exam's draw.
	ErrInsufficientQuestions = errors.New("insufficient questions in bank")

	// ErrSessionNotActive: a write arrived after the session left
	// in_progress, or past its deadline.
	ErrSessionNotActive = errors.New("session not active")

	// ErrUnknownQuestion: the question or option is not part of the
	// session's frozen set.
	ErrUnknownQuestion = errors.New("question not part of session")

	// ErrNotFound: the entity does not exist, or the caller may not see it.
	ErrNotFound = errors.New("not found")

	// ErrStorageConflict: a compare-and-swap lost to a concurrent writer.
	ErrStorageConflict = errors.New("storage conflict")
)
