package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository/memory"
	"github.com/oaib/exam-engine/internal/service"
	"github.com/rs/zerolog"
)

func TestStartAllocatesSession(t *testing.T) {
	ctx := context.Background()
	bank, questions := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)
	store := memory.NewSessionStore()

	svc := service.NewSessionService(store, catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	candidate := uuid.New()
	session, err := svc.Start(ctx, candidate, exam.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if session.Status != model.SessionStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", session.Status)
	}
	if !session.Deadline.Equal(testStart.Add(30 * time.Minute)) {
		t.Fatalf("wrong deadline: %v", session.Deadline)
	}
	if len(session.Questions) != 5 {
		t.Fatalf("expected 5 snapshots, got %d", len(session.Questions))
	}
	// Randomize off keeps bank order.
	for i, snap := range session.Questions {
		if snap.QuestionID != questions[i].ID {
			t.Fatalf("snapshot %d out of order", i)
		}
		if snap.Ord != i {
			t.Fatalf("snapshot %d has ord %d", i, snap.Ord)
		}
	}
}

func TestStartResumesActiveSession(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)
	store := memory.NewSessionStore()

	svc := service.NewSessionService(store, catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	candidate := uuid.New()
	first, err := svc.Start(ctx, candidate, exam.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	second, err := svc.Start(ctx, candidate, exam.ID)
	if !errors.Is(err, model.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same session back, got %s and %s", first.ID, second.ID)
	}
	if len(second.Questions) != 5 {
		t.Fatalf("resumed session missing detail: %d snapshots", len(second.Questions))
	}

	// A different candidate still gets a fresh session.
	other, err := svc.Start(ctx, uuid.New(), exam.ID)
	if err != nil {
		t.Fatalf("start for other candidate failed: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("sessions must be per candidate")
	}
}

func TestStartRejectsUnavailableExam(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	store := memory.NewSessionStore()

	svc := service.NewSessionService(store, catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	draft := publishedExam(5)
	draft.Status = model.ExamStatusDraft
	catalog.Put(draft)
	if _, err := svc.Start(ctx, uuid.New(), draft.ID); !errors.Is(err, model.ErrExamNotAvailable) {
		t.Fatalf("expected ErrExamNotAvailable for draft, got %v", err)
	}

	closed := publishedExam(5)
	past := testStart.Add(-time.Hour)
	closed.ClosesAt = &past
	catalog.Put(closed)
	if _, err := svc.Start(ctx, uuid.New(), closed.ID); !errors.Is(err, model.ErrExamNotAvailable) {
		t.Fatalf("expected ErrExamNotAvailable for closed, got %v", err)
	}

	if _, err := svc.Start(ctx, uuid.New(), uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown exam, got %v", err)
	}
}

func TestStartFailsOnShortBank(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(3)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	if _, err := svc.Start(ctx, uuid.New(), exam.ID); !errors.Is(err, model.ErrInsufficientQuestions) {
		t.Fatalf("expected ErrInsufficientQuestions, got %v", err)
	}
}

func TestStartShufflePermutesWithoutLoss(t *testing.T) {
	ctx := context.Background()
	bank, questions := seedBank(8)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(8)
	exam.Randomize = true
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	session, err := svc.Start(ctx, uuid.New(), exam.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	want := make(map[uuid.UUID]bool, len(questions))
	for _, q := range questions {
		want[q.ID] = true
	}
	if len(session.Questions) != len(questions) {
		t.Fatalf("expected %d snapshots, got %d", len(questions), len(session.Questions))
	}
	for _, snap := range session.Questions {
		if !want[snap.QuestionID] {
			t.Fatalf("snapshot %s not from the bank", snap.QuestionID)
		}
		delete(want, snap.QuestionID)
	}
}

func TestStartHonorsCategoryMix(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewQuestionBank()
	for i := 0; i < 4; i++ {
		bank.Add(makeQuestion("algebra", 1, model.DifficultyMedium))
	}
	for i := 0; i < 4; i++ {
		bank.Add(makeQuestion("geometry", 1, model.DifficultyMedium))
	}

	catalog := memory.NewExamCatalog()
	exam := publishedExam(4)
	exam.CategoryMix = map[string]int{"algebra": 2, "geometry": 2}
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	session, err := svc.Start(ctx, uuid.New(), exam.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	perCategory := map[string]int{}
	for _, snap := range session.Questions {
		perCategory[snap.Category]++
	}
	if perCategory["algebra"] != 2 || perCategory["geometry"] != 2 {
		t.Fatalf("mix not honored: %v", perCategory)
	}
}

func TestStartWithMixFreezesStableOrder(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewQuestionBank()
	for i := 0; i < 3; i++ {
		bank.Add(makeQuestion("algebra", 1, model.DifficultyMedium))
	}
	for i := 0; i < 3; i++ {
		bank.Add(makeQuestion("geometry", 1, model.DifficultyMedium))
	}

	catalog := memory.NewExamCatalog()
	exam := publishedExam(4)
	exam.CategoryMix = map[string]int{"algebra": 2, "geometry": 2}
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	first, err := svc.Start(ctx, uuid.New(), exam.ID)
	if err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	second, err := svc.Start(ctx, uuid.New(), exam.ID)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	// Randomize off: two allocations of a mixed exam freeze the identical
	// question order, not whatever order the mix happened to iterate in.
	if len(first.Questions) != 4 || len(second.Questions) != 4 {
		t.Fatalf("expected 4 snapshots each, got %d and %d", len(first.Questions), len(second.Questions))
	}
	for i := range first.Questions {
		if first.Questions[i].QuestionID != second.Questions[i].QuestionID {
			t.Fatalf("mixed draw order differs at %d", i)
		}
	}
}

func TestStartFailsOnShortCategory(t *testing.T) {
	ctx := context.Background()
	bank := memory.NewQuestionBank()
	for i := 0; i < 5; i++ {
		bank.Add(makeQuestion("algebra", 1, model.DifficultyMedium))
	}
	bank.Add(makeQuestion("geometry", 1, model.DifficultyMedium))

	catalog := memory.NewExamCatalog()
	exam := publishedExam(4)
	exam.CategoryMix = map[string]int{"algebra": 2, "geometry": 2}
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	// The bank has enough questions in total, but geometry cannot fill its
	// share. The allocation fails instead of padding from another category.
	if _, err := svc.Start(ctx, uuid.New(), exam.ID); !errors.Is(err, model.ErrInsufficientQuestions) {
		t.Fatalf("expected ErrInsufficientQuestions, got %v", err)
	}
}

func TestFinishTransitionsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)
	store := memory.NewSessionStore()
	rdb := newTestRedis(t)

	now := testStart
	svc := service.NewSessionService(store, catalog, bank, rdb, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	candidate := uuid.New()
	session, err := svc.Start(ctx, candidate, exam.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	now = testStart.Add(10 * time.Minute)
	finished, err := svc.Finish(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if finished.Status != model.SessionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", finished.Status)
	}
	if finished.TimeSpentSeconds != 600 {
		t.Fatalf("expected 600s spent, got %d", finished.TimeSpentSeconds)
	}

	queued, err := rdb.LRange(ctx, config.WorkerKey.ScoreSessionsQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("queue read failed: %v", err)
	}
	if len(queued) != 1 || queued[0] != session.ID.String() {
		t.Fatalf("expected one queued scoring job, got %v", queued)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)
	rdb := newTestRedis(t)

	now := testStart
	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, rdb, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	candidate := uuid.New()
	session, _ := svc.Start(ctx, candidate, exam.ID)

	now = testStart.Add(5 * time.Minute)
	first, err := svc.Finish(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	// Second finish, and an abandon racing behind it, both observe the
	// existing terminal session instead of flipping it again.
	now = testStart.Add(6 * time.Minute)
	second, err := svc.Finish(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("repeat finish failed: %v", err)
	}
	if second.Status != model.SessionStatusCompleted || !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("terminal session mutated: %+v", second)
	}

	abandoned, err := svc.Abandon(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("abandon after finish failed: %v", err)
	}
	if abandoned.Status != model.SessionStatusCompleted {
		t.Fatalf("abandon overwrote terminal status: %s", abandoned.Status)
	}

	n, _ := rdb.LLen(ctx, config.WorkerKey.ScoreSessionsQueue).Result()
	if n != 1 {
		t.Fatalf("expected exactly one scoring job, got %d", n)
	}
}

func TestLateFinishClampsToDeadline(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)

	now := testStart
	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return now })

	candidate := uuid.New()
	session, _ := svc.Start(ctx, candidate, exam.ID)

	// The sweep has not run yet; the candidate finishes 15 minutes late.
	now = testStart.Add(45 * time.Minute)
	finished, err := svc.Finish(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if !finished.CompletedAt.Equal(session.Deadline) {
		t.Fatalf("completed_at not clamped: %v", finished.CompletedAt)
	}
	if finished.TimeSpentSeconds != 1800 {
		t.Fatalf("time spent not clamped to duration: %d", finished.TimeSpentSeconds)
	}
}

func TestAbandonTransitions(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)

	now := testStart
	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return now })

	candidate := uuid.New()
	session, _ := svc.Start(ctx, candidate, exam.ID)

	now = testStart.Add(2 * time.Minute)
	abandoned, err := svc.Abandon(ctx, session.ID, candidate)
	if err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if abandoned.Status != model.SessionStatusAbandoned {
		t.Fatalf("expected ABANDONED, got %s", abandoned.Status)
	}

	// The slot frees up for a new attempt on the same exam.
	if _, err := svc.Start(ctx, candidate, exam.ID); err != nil {
		t.Fatalf("restart after abandon failed: %v", err)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	bank, _ := seedBank(5)
	catalog := memory.NewExamCatalog()
	exam := publishedExam(5)
	catalog.Put(exam)

	svc := service.NewSessionService(memory.NewSessionStore(), catalog, bank, newTestRedis(t), zerolog.Nop()).
		WithClock(func() time.Time { return testStart })

	candidate := uuid.New()
	session, _ := svc.Start(ctx, candidate, exam.ID)

	if _, err := svc.Get(ctx, session.ID, uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign candidate, got %v", err)
	}
	if _, err := svc.Finish(ctx, session.ID, uuid.New()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign finish, got %v", err)
	}

	// uuid.Nil is the admin projection and skips the check.
	if _, err := svc.Get(ctx, session.ID, uuid.Nil); err != nil {
		t.Fatalf("admin get failed: %v", err)
	}
}
