package service_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository/memory"
	"github.com/redis/go-redis/v9"
)

// testStart is the frozen wall clock most tests run at.
var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// makeQuestion builds a three-option question; the middle option is correct.
func makeQuestion(category string, points int, difficulty model.Difficulty) model.Question {
	options := []model.Option{
		{ID: uuid.New(), Text: "A", Ord: 0},
		{ID: uuid.New(), Text: "B", Ord: 1},
		{ID: uuid.New(), Text: "C", Ord: 2},
	}
	return model.Question{
		ID:              uuid.New(),
		Category:        category,
		Difficulty:      difficulty,
		Text:            fmt.Sprintf("%s question", category),
		Points:          points,
		Options:         options,
		CorrectOptionID: options[1].ID,
		IsActive:        true,
	}
}

// seedBank fills a bank with n medium questions in one category, 1 point each.
func seedBank(n int) (*memory.QuestionBank, []model.Question) {
	bank := memory.NewQuestionBank()
	questions := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		q := makeQuestion("general", 1, model.DifficultyMedium)
		questions = append(questions, q)
		bank.Add(q)
	}
	return bank, questions
}

// publishedExam returns a joinable 30 minute exam drawing count questions.
func publishedExam(count int) model.ExamDefinition {
	return model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Demi-finale",
		DurationMinutes: 30,
		QuestionCount:   count,
		PassingScore:    50,
		Randomize:       false,
		Status:          model.ExamStatusPublished,
		CreatedAt:       testStart.Add(-24 * time.Hour),
	}
}

// wrongOption picks an option of the snapshot that is not the correct one.
func wrongOption(snap model.QuestionSnapshot) uuid.UUID {
	for _, o := range snap.Options {
		if o.ID != snap.CorrectOptionID {
			return o.ID
		}
	}
	return uuid.Nil
}
