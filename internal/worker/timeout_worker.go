package worker

import (
	"context"
	"errors"
	"time"

	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SweepBatchSize bounds one sweep pass so a backlog after downtime is
// worked off in chunks instead of one giant scan.
const SweepBatchSize = 200

// TimeoutWorker sweeps overdue sessions and forces them to TIMED_OUT. It
// is the authoritative enforcer of deadlines; client disconnects or closed
// tabs never leave a session in progress past its deadline plus one sweep
// interval.
type TimeoutWorker struct {
	sessions repository.SessionStore
	rdb      *redis.Client
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewTimeoutWorker creates a new TimeoutWorker.
func NewTimeoutWorker(sessions repository.SessionStore, rdb *redis.Client, interval time.Duration, log zerolog.Logger) *TimeoutWorker {
	return &TimeoutWorker{
		sessions: sessions,
		rdb:      rdb,
		interval: interval,
		log:      log.With().Str("component", "timeout_worker").Logger(),
		now:      time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (w *TimeoutWorker) WithClock(now func() time.Time) *TimeoutWorker {
	w.now = now
	return w
}

// Start begins the sweep loop. Call in a goroutine.
func (w *TimeoutWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: every in_progress session past its deadline is
// timed out and handed to the scoring queue. Exported so tests drive the
// sweep directly without the ticker.
func (w *TimeoutWorker) Sweep(ctx context.Context) {
	overdue, err := w.sessions.ListOverdue(ctx, w.now(), SweepBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("Overdue scan failed")
		return
	}

	swept := 0
	for _, session := range overdue {
		// completed_at is the deadline, not the sweep time. A sweep that
		// runs late must not inflate time_spent_seconds.
		timeSpent := int(session.Deadline.Sub(session.StartedAt).Seconds())

		updated, err := w.sessions.TransitionStatus(ctx, session.ID, model.SessionStatusTimedOut, session.Deadline, timeSpent)
		if err != nil {
			if errors.Is(err, model.ErrStorageConflict) {
				// A finish or abandon landed between the scan and the CAS.
				w.log.Debug().Str("session_id", session.ID.String()).Msg("Lost sweep race, skipping")
				continue
			}
			w.log.Error().Err(err).Str("session_id", session.ID.String()).Msg("Timeout transition failed")
			continue
		}

		if err := w.rdb.RPush(ctx, config.WorkerKey.ScoreSessionsQueue, updated.ID.String()).Err(); err != nil {
			w.log.Error().Err(err).Str("session_id", updated.ID.String()).Msg("Failed to enqueue scoring")
			continue
		}
		swept++
	}

	if swept > 0 {
		w.log.Info().Int("count", swept).Msg("Timed out overdue sessions")
	}
}
