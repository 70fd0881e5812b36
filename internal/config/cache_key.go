package config

import "fmt"

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamLeaderboardKey returns the cache key for an exam's ranked results.
// Invalidated every time a session of that exam is scored.
func (r *CacheKeyStruct) ExamLeaderboardKey(examID string) string {
	return fmt.Sprintf("exam:%s:leaderboard", examID)
}

// ExamStatsKey returns the cache key for an exam's aggregate statistics.
func (r *CacheKeyStruct) ExamStatsKey(examID string) string {
	return fmt.Sprintf("exam:%s:stats", examID)
}

var CacheKey = NewCacheKeyStruct()
