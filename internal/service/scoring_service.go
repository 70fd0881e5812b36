package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/oaib/exam-engine/internal/config"
	"github.com/oaib/exam-engine/internal/model"
	"github.com/oaib/exam-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSessionNotTerminal guards the scoring engine: scoring runs only after
// the terminal CAS, never against a live session.
var ErrSessionNotTerminal = errors.New("session not in a terminal state")

// ScoringService computes scores, category breakdowns and ranks for
// terminated sessions. It runs at most once per session: the terminal CAS
// produces exactly one enqueue, and a replayed queue item short-circuits on
// the already-persisted score.
type ScoringService struct {
	sessions repository.SessionStore
	catalog  repository.ExamCatalog
	rdb      *redis.Client
	cfg      *config.Config
	log      zerolog.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(
	sessions repository.SessionStore,
	catalog repository.ExamCatalog,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *ScoringService {
	return &ScoringService{
		sessions: sessions,
		catalog:  catalog,
		rdb:      rdb,
		cfg:      cfg,
		log:      log.With().Str("component", "scoring_service").Logger(),
	}
}

// ScoreSession scores one terminated session: all-or-nothing points per
// question against the frozen snapshots, then a rank recompute for the
// exam's terminal sessions and a leaderboard cache invalidation.
func (s *ScoringService) ScoreSession(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID, true)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.Status.Terminal() {
		return nil, ErrSessionNotTerminal
	}
	if session.Scored() {
		// The scores may have landed while the rank pass did not (a crash
		// between the two writes); a replayed queue item finishes the job.
		// Abandoned sessions never enter the ranking.
		if session.Rank == nil && session.Status != model.SessionStatusAbandoned {
			if err := s.sessions.RecomputeRanks(ctx, session.ExamID); err != nil {
				return nil, fmt.Errorf("recompute ranks: %w", err)
			}
			s.invalidateCaches(ctx, session.ExamID)
			return s.sessions.GetSession(ctx, sessionID, false)
		}
		return session, nil
	}
	if len(session.Questions) == 0 {
		// A session without snapshots cannot be scored; fatal for this
		// session, routed to the operator queue by the worker.
		return nil, fmt.Errorf("session %s has no question snapshots", sessionID)
	}

	exam, err := s.catalog.GetExamDefinition(ctx, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}

	var score, maxScore int
	categories := make(map[string]model.CategoryScore)
	for _, snap := range session.Questions {
		maxScore += snap.Points
		cat := categories[snap.Category]
		cat.MaxScore += snap.Points

		if a, ok := session.Answers[snap.QuestionID]; ok &&
			a.SelectedOptionID != nil && *a.SelectedOptionID == snap.CorrectOptionID {
			score += snap.Points
			cat.Score += snap.Points
		}
		categories[snap.Category] = cat
	}

	percentage := 0
	if maxScore > 0 {
		percentage = int(math.Round(float64(score) / float64(maxScore) * 100))
	}
	passed := percentage >= exam.PassingScore

	if err := s.sessions.SaveScores(ctx, sessionID, score, maxScore, percentage, passed, categories); err != nil {
		return nil, fmt.Errorf("save scores: %w", err)
	}

	if err := s.sessions.RecomputeRanks(ctx, session.ExamID); err != nil {
		return nil, fmt.Errorf("recompute ranks: %w", err)
	}

	// Ranking is relative: this completion invalidates the cached
	// leaderboard for everyone in the exam.
	s.invalidateCaches(ctx, session.ExamID)

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("exam_id", session.ExamID.String()).
		Int("score", score).
		Int("max_score", maxScore).
		Int("percentage", percentage).
		Bool("passed", passed).
		Msg("Session scored")

	return s.sessions.GetSession(ctx, sessionID, false)
}

func (s *ScoringService) invalidateCaches(ctx context.Context, examID uuid.UUID) {
	keys := []string{
		config.CacheKey.ExamLeaderboardKey(examID.String()),
		config.CacheKey.ExamStatsKey(examID.String()),
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Leaderboard cache invalidation failed")
	}
}

// Leaderboard returns the exam's ranked terminal sessions, serving the
// cached copy when the last completion has not invalidated it.
func (s *ScoringService) Leaderboard(ctx context.Context, examID uuid.UUID) ([]model.RankedSession, error) {
	key := config.CacheKey.ExamLeaderboardKey(examID.String())

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		var cached []model.RankedSession
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached, nil
		}
		// Corrupt cache entry; fall through to rebuild.
	} else if err != redis.Nil {
		s.log.Warn().Err(err).Msg("Leaderboard cache read failed")
	}

	ranked, err := s.sessions.ListRanked(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list ranked: %w", err)
	}

	if raw, err := json.Marshal(ranked); err == nil {
		if err := s.rdb.Set(ctx, key, raw, s.cfg.RankCacheTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Leaderboard cache write failed")
		}
	}
	return ranked, nil
}

// Stats aggregates an exam's terminal sessions for the admin dashboard.
func (s *ScoringService) Stats(ctx context.Context, examID uuid.UUID) (*model.ExamStats, error) {
	exam, err := s.catalog.GetExamDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	return s.sessions.GetExamStats(ctx, examID, exam.PassingScore)
}
