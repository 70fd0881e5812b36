package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository/memory"
	"github.com/oaib/exam-engine/internal/service"
	"github.com/oaib/exam-engine/internal/worker"
	"github.com/rs/zerolog"
)

// seedTerminalSession builds a completed two-question session with one
// correct answer, ready for the scoring engine.
func seedTerminalSession(t *testing.T, store *memory.SessionStore, catalog *memory.ExamCatalog) *model.Session {
	t.Helper()
	ctx := context.Background()

	exam := model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Finale",
		DurationMinutes: 30,
		QuestionCount:   2,
		PassingScore:    50,
		Status:          model.ExamStatusPublished,
	}
	catalog.Put(exam)

	correct := uuid.New()
	other := uuid.New()
	s := &model.Session{
		ExamID:      exam.ID,
		CandidateID: uuid.New(),
		StartedAt:   sweepStart,
		Deadline:    sweepStart.Add(30 * time.Minute),
		Status:      model.SessionStatusInProgress,
		Questions: []model.QuestionSnapshot{
			{
				QuestionID: uuid.New(), Ord: 0, Category: "general", Points: 1,
				Options:         []model.Option{{ID: correct}, {ID: other}},
				CorrectOptionID: correct,
			},
			{
				QuestionID: uuid.New(), Ord: 1, Category: "general", Points: 1,
				Options:         []model.Option{{ID: uuid.New()}, {ID: uuid.New()}},
				CorrectOptionID: uuid.New(),
			},
		},
	}
	if err := store.CreateSession(ctx, s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := store.UpsertAnswer(ctx, &model.Answer{
		SessionID: s.ID, QuestionID: s.Questions[0].QuestionID, SelectedOptionID: &correct,
	}); err != nil {
		t.Fatalf("seed answer: %v", err)
	}
	if _, err := store.TransitionStatus(ctx, s.ID, model.SessionStatusCompleted, sweepStart.Add(10*time.Minute), 600); err != nil {
		t.Fatalf("seed finish: %v", err)
	}
	return s
}

func TestProcessScoresQueuedSession(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	catalog := memory.NewExamCatalog()
	rdb := newTestRedis(t)
	cfg := &config.Config{RankCacheTTL: time.Minute}

	session := seedTerminalSession(t, store, catalog)

	scoring := service.NewScoringService(store, catalog, rdb, cfg, zerolog.Nop())
	w := worker.NewScoringWorker(scoring, rdb, zerolog.Nop())

	w.Process(ctx, session.ID.String())

	scored, err := store.GetSession(ctx, session.ID, false)
	if err != nil {
		t.Fatalf("get scored: %v", err)
	}
	if scored.Score == nil || *scored.Score != 1 || *scored.MaxScore != 2 {
		t.Fatalf("expected 1/2, got %+v", scored)
	}
	if *scored.Percentage != 50 || !*scored.Passed {
		t.Fatalf("expected a passing 50%%, got %d%%", *scored.Percentage)
	}
	if scored.Rank == nil || *scored.Rank != 1 {
		t.Fatalf("expected rank 1, got %v", scored.Rank)
	}

	n, _ := rdb.LLen(ctx, config.WorkerKey.ScoringDeadLetterQueue).Result()
	if n != 0 {
		t.Fatalf("successful scoring must not dead letter, got %d items", n)
	}
}

func TestProcessDeadLettersBadPayloads(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	catalog := memory.NewExamCatalog()
	rdb := newTestRedis(t)
	cfg := &config.Config{RankCacheTTL: time.Minute}

	scoring := service.NewScoringService(store, catalog, rdb, cfg, zerolog.Nop())
	w := worker.NewScoringWorker(scoring, rdb, zerolog.Nop())

	w.Process(ctx, "not-a-uuid")
	w.Process(ctx, uuid.New().String()) // unknown session

	dead, err := rdb.LRange(ctx, config.WorkerKey.ScoringDeadLetterQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("dead letter read: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead letters, got %v", dead)
	}
	if dead[0] != "not-a-uuid" {
		t.Fatalf("payload must survive verbatim, got %q", dead[0])
	}
}

func TestProcessReplayIsHarmless(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	catalog := memory.NewExamCatalog()
	rdb := newTestRedis(t)
	cfg := &config.Config{RankCacheTTL: time.Minute}

	session := seedTerminalSession(t, store, catalog)

	scoring := service.NewScoringService(store, catalog, rdb, cfg, zerolog.Nop())
	w := worker.NewScoringWorker(scoring, rdb, zerolog.Nop())

	w.Process(ctx, session.ID.String())
	w.Process(ctx, session.ID.String())

	scored, _ := store.GetSession(ctx, session.ID, false)
	if *scored.Score != 1 {
		t.Fatalf("replay changed the score: %d", *scored.Score)
	}
	n, _ := rdb.LLen(ctx, config.WorkerKey.ScoringDeadLetterQueue).Result()
	if n != 0 {
		t.Fatalf("replay must not dead letter, got %d items", n)
	}
}
