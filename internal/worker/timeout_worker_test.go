package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository/memory"
	"github.com/oaib/exam-engine/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var sweepStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func seedSession(t *testing.T, store *memory.SessionStore, startedAt time.Time, duration time.Duration) *model.Session {
	t.Helper()
	s := &model.Session{
		ExamID:      uuid.New(),
		CandidateID: uuid.New(),
		StartedAt:   startedAt,
		Deadline:    startedAt.Add(duration),
		Status:      model.SessionStatusInProgress,
	}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestSweepTimesOutOverdueSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	rdb := newTestRedis(t)

	overdue := seedSession(t, store, sweepStart, 30*time.Minute)
	live := seedSession(t, store, sweepStart.Add(25*time.Minute), 30*time.Minute)

	// The sweep runs 5 minutes after the first deadline.
	now := sweepStart.Add(35 * time.Minute)
	w := worker.NewTimeoutWorker(store, rdb, time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	w.Sweep(ctx)

	swept, err := store.GetSession(ctx, overdue.ID, false)
	if err != nil {
		t.Fatalf("get swept: %v", err)
	}
	if swept.Status != model.SessionStatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", swept.Status)
	}
	// Stamped at the deadline, not the sweep time.
	if !swept.CompletedAt.Equal(overdue.Deadline) {
		t.Fatalf("completed_at not the deadline: %v", swept.CompletedAt)
	}
	if swept.TimeSpentSeconds != 1800 {
		t.Fatalf("time spent must equal the full duration, got %d", swept.TimeSpentSeconds)
	}

	untouched, _ := store.GetSession(ctx, live.ID, false)
	if untouched.Status != model.SessionStatusInProgress {
		t.Fatalf("live session swept early: %s", untouched.Status)
	}

	queued, err := rdb.LRange(ctx, config.WorkerKey.ScoreSessionsQueue, 0, -1).Result()
	if err != nil {
		t.Fatalf("queue read: %v", err)
	}
	if len(queued) != 1 || queued[0] != overdue.ID.String() {
		t.Fatalf("expected one scoring job for the swept session, got %v", queued)
	}
}

func TestSweepSkipsTerminalSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	rdb := newTestRedis(t)

	finished := seedSession(t, store, sweepStart, 30*time.Minute)
	completedAt := sweepStart.Add(10 * time.Minute)
	if _, err := store.TransitionStatus(ctx, finished.ID, model.SessionStatusCompleted, completedAt, 600); err != nil {
		t.Fatalf("pre-finish: %v", err)
	}

	now := sweepStart.Add(time.Hour)
	w := worker.NewTimeoutWorker(store, rdb, time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	w.Sweep(ctx)

	s, _ := store.GetSession(ctx, finished.ID, false)
	if s.Status != model.SessionStatusCompleted {
		t.Fatalf("sweep overwrote a finished session: %s", s.Status)
	}
	if s.TimeSpentSeconds != 600 {
		t.Fatalf("sweep touched time spent: %d", s.TimeSpentSeconds)
	}

	n, _ := rdb.LLen(ctx, config.WorkerKey.ScoreSessionsQueue).Result()
	if n != 0 {
		t.Fatalf("nothing should be enqueued, got %d items", n)
	}
}

func TestSweepIsRepeatSafe(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	rdb := newTestRedis(t)

	overdue := seedSession(t, store, sweepStart, 30*time.Minute)

	now := sweepStart.Add(time.Hour)
	w := worker.NewTimeoutWorker(store, rdb, time.Second, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	w.Sweep(ctx)
	w.Sweep(ctx)

	s, _ := store.GetSession(ctx, overdue.ID, false)
	if s.Status != model.SessionStatusTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", s.Status)
	}

	n, _ := rdb.LLen(ctx, config.WorkerKey.ScoreSessionsQueue).Result()
	if n != 1 {
		t.Fatalf("repeat sweep must not enqueue twice, got %d items", n)
	}
}
