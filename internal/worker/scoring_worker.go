package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ScorePollTimeout = 1 * time.Second
	ScoreMaxRetries  = 3
)

// ScoringWorker consumes session IDs from the scoring queue and runs the
// scoring engine on each. Transient failures are retried in place; payloads
// that keep failing land on the dead letter queue for operators.
type ScoringWorker struct {
	scoring *service.ScoringService
	rdb     *redis.Client
	log     zerolog.Logger
}

// NewScoringWorker creates a new ScoringWorker.
func NewScoringWorker(scoring *service.ScoringService, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		scoring: scoring,
		rdb:     rdb,
		log:     log.With().Str("component", "scoring_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ScoringWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.ScoreSessionsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	w.Process(ctx, result[1])
}

// Process scores one queue payload with retries. Exported so tests drive
// payloads through without the BLPop loop.
func (w *ScoringWorker) Process(ctx context.Context, payload string) {
	sessionID, err := uuid.Parse(payload)
	if err != nil {
		w.log.Error().Str("payload", payload).Msg("Invalid session ID payload")
		w.deadLetter(ctx, payload)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= ScoreMaxRetries; attempt++ {
		_, lastErr = w.scoring.ScoreSession(ctx, sessionID)
		if lastErr == nil {
			return
		}
		// Unknown or non-terminal sessions will not heal with retries.
		if errors.Is(lastErr, model.ErrNotFound) || errors.Is(lastErr, service.ErrSessionNotTerminal) {
			break
		}
		w.log.Warn().Err(lastErr).
			Str("session_id", sessionID.String()).
			Int("attempt", attempt).
			Msg("Scoring attempt failed")
	}

	w.log.Error().Err(lastErr).Str("session_id", sessionID.String()).Msg("Scoring failed, routing to dead letter queue")
	w.deadLetter(ctx, payload)
}

func (w *ScoringWorker) deadLetter(ctx context.Context, payload string) {
	if err := w.rdb.RPush(ctx, config.WorkerKey.ScoringDeadLetterQueue, payload).Err(); err != nil {
		w.log.Error().Err(err).Str("payload", payload).Msg("Dead letter push failed")
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *ScoringWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.ScoreSessionsQueue).Result()
		if err != nil {
			break
		}
		w.Process(ctx, result)
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
