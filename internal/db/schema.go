package db

import "time"

// JobRun represents a single execution of the refresh job
type JobRun struct {
	RunID          string
	JobName        string
	Trigger        string // 'schedule' or 'manual'
	ScheduledAt    time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Status         string // state machine state name
	Outcome        string // empty until terminal
	Branch         string
	PullRequestURL string
	Error          *string
}

// Completion carries the terminal fields of a job run
type Completion struct {
	Status         string
	Outcome        string
	Branch         string
	PullRequestURL string
	Error          *string
}
