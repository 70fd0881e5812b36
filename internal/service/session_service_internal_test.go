package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository/memory"
	"github.com/rs/zerolog"
)

func shuffleBank(n int) *memory.QuestionBank {
	bank := memory.NewQuestionBank()
	for i := 0; i < n; i++ {
		correct := uuid.New()
		bank.Add(model.Question{
			ID:              uuid.New(),
			Category:        "general",
			Difficulty:      model.DifficultyMedium,
			Text:            "q",
			Points:          1,
			IsActive:        true,
			Options:         []model.Option{{ID: correct, Ord: 0}, {ID: uuid.New(), Ord: 1}},
			CorrectOptionID: correct,
		})
	}
	return bank
}

func TestSelectQuestionsShuffleIsReproducible(t *testing.T) {
	ctx := context.Background()
	svc := &SessionService{bank: shuffleBank(20), log: zerolog.Nop(), now: time.Now}
	exam := &model.ExamDefinition{
		ID:              uuid.New(),
		DurationMinutes: 30,
		QuestionCount:   20,
		Randomize:       true,
		Status:          model.ExamStatusPublished,
	}
	candidate := uuid.New()
	nonce := uuid.New()

	first, err := svc.selectQuestions(ctx, exam, candidate, nonce)
	if err != nil {
		t.Fatalf("first draw failed: %v", err)
	}
	second, err := svc.selectQuestions(ctx, exam, candidate, nonce)
	if err != nil {
		t.Fatalf("second draw failed: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("same nonce produced a different order at %d", i)
		}
	}

	// A fresh nonce reseeds the shuffle. With 20 questions a repeated
	// permutation is as good as impossible.
	other, err := svc.selectQuestions(ctx, exam, candidate, uuid.New())
	if err != nil {
		t.Fatalf("reseeded draw failed: %v", err)
	}
	same := true
	for i := range first {
		if first[i].ID != other[i].ID {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different nonces produced the same order")
	}
}

func TestShuffleSeedDerivation(t *testing.T) {
	candidate, exam, nonce := uuid.New(), uuid.New(), uuid.New()

	if shuffleSeed(candidate, exam, nonce) != shuffleSeed(candidate, exam, nonce) {
		t.Fatal("seed must be a pure function of its inputs")
	}
	if shuffleSeed(candidate, exam, nonce) == shuffleSeed(candidate, exam, uuid.New()) {
		t.Fatal("a fresh nonce must change the seed")
	}
	if shuffleSeed(candidate, exam, nonce) == shuffleSeed(uuid.New(), exam, nonce) {
		t.Fatal("the candidate must change the seed")
	}
}
