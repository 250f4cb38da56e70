package domain

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one harvester invocation as recorded in the journal.
type Run struct {
	ID           string
	Status       RunStatus
	QueueSize    int
	StartIndex   int
	LastIndex    int
	SuccessCount int
	ErrorCount   int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// SessionEpisode records one session-expiry recovery episode.
type SessionEpisode struct {
	ID         int64
	RunID      string
	ItemIndex  int
	Trigger    string
	OccurredAt time.Time
}
