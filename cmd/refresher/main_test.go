package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/scheduler"
)

// execute runs the root command with args and returns stdout and stderr
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "refresher dev\n", out)
}

func TestWorkflowCommand_Stdout(t *testing.T) {
	t.Setenv("REFRESHER_JOB_CANONICAL_REPOSITORY", "example/upstream")

	out, _, err := execute(t, "workflow", "--db", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	assert.Contains(t, out, "peter-evans/create-pull-request@v6")
	assert.Contains(t, out, "github.repository == 'example/upstream'")
	assert.Contains(t, out, "secrets.USERAGENTS_API_KEY")
}

func TestWorkflowCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".github", "workflows", "useragents.yml")

	out, stderr, err := execute(t, "workflow", "--output", path, "--db", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.Contains(t, stderr, "wrote "+path)
	assert.FileExists(t, path)
}

func TestRunCommand_SkipsOnFork(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("REFRESHER_JOB_REPOSITORY", "someone/fork")
	t.Setenv("REFRESHER_JOB_CANONICAL_REPOSITORY", "example/upstream")

	out, _, err := execute(t, "run", "--db", dbPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")

	ledger, err := db.Open(db.Config{DSN: dbPath})
	require.NoError(t, err)
	defer ledger.Close()

	runs, err := ledger.GetJobRuns("http-useragents", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "skipped", runs[0].Outcome)
	assert.Equal(t, "manual", runs[0].Trigger)

	history, _, err := execute(t, "history", "--db", dbPath, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, history, "skipped")
	assert.Contains(t, history, "1 runs, 1 finished, 100% succeeded")
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	t.Setenv("REFRESHER_JOB_CANONICAL_REPOSITORY", "not-a-repository")

	_, _, err := execute(t, "run", "--db", filepath.Join(t.TempDir(), "ledger.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestHistoryCommand_Empty(t *testing.T) {
	out, _, err := execute(t, "history", "--db", filepath.Join(t.TempDir(), "ledger.db"), "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded for http-useragents\n")
	assert.Contains(t, out, "next runs:")
}

func TestHistoryCommand_InvalidLimit(t *testing.T) {
	_, _, err := execute(t, "history", "--limit", "0")
	require.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.True(t, strings.HasSuffix(truncate(strings.Repeat("x", 20), 10), "…"))

	got := truncate(strings.Repeat("é", 20), 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))
	assert.Equal(t, "ééé", truncate("ééé", 3))
}

func TestUpcomingRuns(t *testing.T) {
	cfg := scheduler.DefaultConfig()
	now := time.Date(2026, 10, 19, 15, 4, 0, 0, time.UTC)

	got, err := upcomingRuns(cfg, now, 2)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	}, got)

	cfg.Schedule = "bogus"
	_, err = upcomingRuns(cfg, now, 2)
	assert.Error(t, err)
}

type fakeMissedScheduler struct {
	missed    []time.Time
	since     time.Time
	triggered []time.Time
}

func (f *fakeMissedScheduler) MissedRuns(since time.Time) []time.Time {
	f.since = since
	return f.missed
}

func (f *fakeMissedScheduler) TriggerMissed(at time.Time) bool {
	f.triggered = append(f.triggered, at)
	return true
}

type fakeLatestRun struct {
	run *db.JobRun
	err error
}

func (f fakeLatestRun) GetLatestJobRun(string) (*db.JobRun, error) {
	return f.run, f.err
}

func TestQueueMissedRun(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	last := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	aug := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sep := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	t.Run("collapses missed fires into the latest", func(t *testing.T) {
		sched := &fakeMissedScheduler{missed: []time.Time{aug, sep}}
		err := queueMissedRun(sched, fakeLatestRun{run: &db.JobRun{ScheduledAt: last}}, "http-useragents", logger)
		require.NoError(t, err)
		assert.Equal(t, last, sched.since)
		assert.Equal(t, []time.Time{sep}, sched.triggered)
	})

	t.Run("nothing missed", func(t *testing.T) {
		sched := &fakeMissedScheduler{}
		err := queueMissedRun(sched, fakeLatestRun{run: &db.JobRun{ScheduledAt: last}}, "http-useragents", logger)
		require.NoError(t, err)
		assert.Empty(t, sched.triggered)
	})

	t.Run("empty ledger", func(t *testing.T) {
		sched := &fakeMissedScheduler{missed: []time.Time{sep}}
		err := queueMissedRun(sched, fakeLatestRun{err: db.ErrNotFound}, "http-useragents", logger)
		require.NoError(t, err)
		assert.Empty(t, sched.triggered)
	})

	t.Run("ledger error", func(t *testing.T) {
		sched := &fakeMissedScheduler{}
		err := queueMissedRun(sched, fakeLatestRun{err: errors.New("disk I/O error")}, "http-useragents", logger)
		assert.Error(t, err)
	})
}

