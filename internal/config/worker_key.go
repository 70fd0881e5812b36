package config

type WorkerKeyStruct struct {
	// ScoreSessionsQueue feeds terminated session IDs to the scoring worker.
	ScoreSessionsQueue string
	// ScoringDeadLetterQueue receives sessions whose scoring failed fatally,
	// for operator inspection. Nothing in the engine consumes it.
	ScoringDeadLetterQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ScoreSessionsQueue:     "score_sessions_queue",
	ScoringDeadLetterQueue: "scoring_dead_letter_queue",
}
