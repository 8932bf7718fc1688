package db

import (
	"database/sql"
	"time"
)

const jobRunColumns = `run_id, job_name, triggered_by, scheduled_at, started_at, completed_at,
		status, outcome, branch, pull_request_url, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRun(row rowScanner) (*JobRun, error) {
	run := &JobRun{}
	err := row.Scan(
		&run.RunID,
		&run.JobName,
		&run.Trigger,
		&run.ScheduledAt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.Outcome,
		&run.Branch,
		&run.PullRequestURL,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CreateJobRun creates a new job run record
func (db *DB) CreateJobRun(run *JobRun) error {
	query := `
		INSERT INTO job_runs (` + jobRunColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		run.RunID,
		run.JobName,
		run.Trigger,
		run.ScheduledAt.UTC(),
		utcPtr(run.StartedAt),
		utcPtr(run.CompletedAt),
		run.Status,
		run.Outcome,
		run.Branch,
		run.PullRequestURL,
		run.Error,
	)
	if IsDuplicate(err) {
		return ErrDuplicate
	}

	return err
}

// GetJobRunByRunID retrieves a job run by its run ID
func (db *DB) GetJobRunByRunID(runID string) (*JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs WHERE run_id = ?`

	run, err := scanJobRun(db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetLatestJobRun retrieves the most recently scheduled run of a job
func (db *DB) GetLatestJobRun(jobName string) (*JobRun, error) {
	runs, err := db.GetJobRuns(jobName, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

// GetJobRuns retrieves the most recent runs for a job, newest first
func (db *DB) GetJobRuns(jobName string, limit int) ([]JobRun, error) {
	query := `
		SELECT ` + jobRunColumns + `
		FROM job_runs
		WHERE job_name = ?
		ORDER BY scheduled_at DESC, started_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []JobRun{}
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// UpdateJobRunStatus updates the status of a job run. The first transition out
// of the initial state also stamps started_at.
func (db *DB) UpdateJobRunStatus(runID string, status string) error {
	query := `
		UPDATE job_runs
		SET status = ?, started_at = COALESCE(started_at, ?)
		WHERE run_id = ?
	`

	result, err := db.Exec(query, status, time.Now().UTC(), runID)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// CompleteJobRun records the terminal state of a job run
func (db *DB) CompleteJobRun(runID string, c Completion) error {
	query := `
		UPDATE job_runs
		SET status = ?, outcome = ?, branch = ?, pull_request_url = ?, error = ?,
			completed_at = ?, started_at = COALESCE(started_at, ?)
		WHERE run_id = ?
	`

	now := time.Now().UTC()
	result, err := db.Exec(query, c.Status, c.Outcome, c.Branch, c.PullRequestURL, c.Error, now, now, runID)
	if err != nil {
		return err
	}

	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
