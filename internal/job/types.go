package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/forge"
	"github.com/livinlefevreloca/refresher/internal/git"
	"github.com/livinlefevreloca/refresher/internal/provision"
)

// Config is the fixed job definition
type Config struct {
	Name string `toml:"name"`

	// Repository is the repository this process acts for. Empty falls back
	// to GITHUB_REPOSITORY at load time.
	Repository          string `toml:"repository"`
	CanonicalRepository string `toml:"canonical_repository"`

	// Empty values are looked up from the forge
	CloneURL      string `toml:"clone_url"`
	DefaultBranch string `toml:"default_branch"`

	TrackedPath   string `toml:"tracked_path"`
	Script        string `toml:"script"`
	Dependency    string `toml:"dependency"`
	CredentialEnv string `toml:"credential_env"`

	// WorkDir is the parent of per-run temporary directories, empty uses os.TempDir
	WorkDir     string `toml:"work_dir"`
	KeepWorkDir bool   `toml:"keep_work_dir"`
}

// DefaultConfig returns the job definition for the user-agent refresh
func DefaultConfig() Config {
	return Config{
		Name:                "http-useragents",
		CanonicalRepository: "streamlink/streamlink",
		TrackedPath:         "src/streamlink/session/http_useragents.py",
		Script:              "script/update-useragents.py",
		Dependency:          "requests",
		CredentialEnv:       "USERAGENTS_API_KEY",
	}
}

// Validate checks the job definition
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if c.CanonicalRepository == "" {
		return fmt.Errorf("canonical_repository must not be empty")
	}
	if _, _, err := forge.SplitRepository(c.CanonicalRepository); err != nil {
		return fmt.Errorf("canonical_repository: %w", err)
	}
	if err := validateRelative("tracked_path", c.TrackedPath); err != nil {
		return err
	}
	if err := validateRelative("script", c.Script); err != nil {
		return err
	}
	if c.Dependency == "" {
		return fmt.Errorf("dependency must not be empty")
	}
	if c.CredentialEnv == "" {
		return fmt.Errorf("credential_env must not be empty")
	}
	return nil
}

func validateRelative(field, p string) error {
	if p == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("%s must be relative to the repository root, got %q", field, p)
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%s must stay inside the repository, got %q", field, p)
	}
	return nil
}

// PublishConfig holds the fixed metadata of a proposed change
type PublishConfig struct {
	Remote           string `toml:"remote"`
	BranchBase       string `toml:"branch_base"`
	CommitMessage    string `toml:"commit_message"`
	PullRequestTitle string `toml:"pull_request_title"`
	PullRequestBody  string `toml:"pull_request_body"`
	AuthorName       string `toml:"author_name"`
	AuthorEmail      string `toml:"author_email"`
	CloseSuperseded  bool   `toml:"close_superseded"`
}

// DefaultPublishConfig returns the bot metadata used for pull requests
func DefaultPublishConfig() PublishConfig {
	return PublishConfig{
		Remote:           "origin",
		BranchBase:       "automated/session/http_useragents/update",
		CommitMessage:    "session.http_useragents: update useragents",
		PullRequestTitle: "session.http_useragents: update useragents",
		PullRequestBody:  "Automated pull request",
		AuthorName:       "github-actions[bot]",
		AuthorEmail:      "41898282+github-actions[bot]@users.noreply.github.com",
		CloseSuperseded:  true,
	}
}

// Validate checks the publication metadata
func (c PublishConfig) Validate() error {
	if c.Remote == "" {
		return fmt.Errorf("publish remote must not be empty")
	}
	if c.BranchBase == "" {
		return fmt.Errorf("branch_base must not be empty")
	}
	if c.CommitMessage == "" {
		return fmt.Errorf("commit_message must not be empty")
	}
	if c.PullRequestTitle == "" {
		return fmt.Errorf("pull_request_title must not be empty")
	}
	if c.AuthorName == "" || c.AuthorEmail == "" {
		return fmt.Errorf("author_name and author_email must not be empty")
	}
	return nil
}

// Identity returns the author and committer of every commit
func (c PublishConfig) Identity() git.Identity {
	return git.Identity{Name: c.AuthorName, Email: c.AuthorEmail}
}

// TriggerKind says what started a run
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerManual   TriggerKind = "manual"
)

// Trigger starts a run. Manual triggers carry no parameters.
type Trigger struct {
	Kind        TriggerKind
	ScheduledAt time.Time
}

// Manual returns a manual trigger for now
func Manual() Trigger {
	return Trigger{Kind: TriggerManual, ScheduledAt: time.Now()}
}

// Outcome is the user-visible result of a run
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeProposed  Outcome = "proposed"
	OutcomeDryRun    Outcome = "dry_run"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Succeeded reports whether the run counts as green
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeSkipped, OutcomeUnchanged, OutcomeProposed, OutcomeDryRun:
		return true
	default:
		return false
	}
}

// Report summarizes a finished run
type Report struct {
	RunID      string
	Trigger    Trigger
	Outcome    Outcome
	FinalState string

	Result      *RefreshResult
	Branch      string
	CommitSHA   string
	PullRequest *forge.PullRequest
	Superseded  []int

	Err    error
	Timing PhaseTiming
}

// Git is the version-control surface a run needs
type Git interface {
	Clone(ctx context.Context, repoURL, branch, dir string) error
	HeadFile(ctx context.Context, dir, path string) ([]byte, bool, error)
	CreateBranch(ctx context.Context, dir, branch string) error
	CommitPath(ctx context.Context, dir, path, message string, id git.Identity) (string, error)
	Push(ctx context.Context, dir, remote, branch string) error
}

// Runtime provisions the script environment
type Runtime interface {
	Provision(ctx context.Context, envDir string) (provision.Interpreter, error)
}

// Forge opens and closes pull requests
type Forge interface {
	Repository(ctx context.Context, fullName string) (*forge.Repository, error)
	CreatePullRequest(ctx context.Context, fullName string, pr forge.NewPullRequest) (*forge.PullRequest, error)
	CloseSuperseded(ctx context.Context, fullName, headPrefix string, keep int) ([]int, error)
}

// RunRecorder persists run progress. Implemented by *db.DB.
type RunRecorder interface {
	CreateJobRun(run *db.JobRun) error
	UpdateJobRunStatus(runID string, status string) error
	CompleteJobRun(runID string, c db.Completion) error
}
