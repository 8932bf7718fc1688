// Package job runs the periodic data refresh: guard, checkout, provision,
// install, refresh, inspect and, when the tracked file changed, publish a
// pull request.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/forge"
	"github.com/livinlefevreloca/refresher/internal/provision"
)

// Runner executes refresh runs. Runs must not overlap; the scheduler and the
// CLI only ever call Run sequentially.
type Runner struct {
	cfg     Config
	publish PublishConfig

	git     Git
	runtime Runtime
	forge   Forge
	logger  *slog.Logger

	ledger    RunRecorder
	branches  *BranchNamer
	dryRun    bool
	lookupEnv func(string) (string, bool)
	newRunID  func() string

	// Optional state recorder for testing
	recorder *StateRecorder
}

// Option configures a Runner
type Option func(*Runner)

// WithLedger records every run through rec
func WithLedger(rec RunRecorder) Option {
	return func(r *Runner) { r.ledger = rec }
}

// WithDryRun stops runs after inspection; nothing is published
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// WithLookupEnv replaces os.LookupEnv for reading the credential
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Runner) { r.lookupEnv = fn }
}

// WithBranchNamer shares a namer between runners
func WithBranchNamer(n *BranchNamer) Option {
	return func(r *Runner) { r.branches = n }
}

// NewRunner creates a runner for the given job definition
func NewRunner(
	cfg Config,
	publish PublishConfig,
	gitClient Git,
	runtime Runtime,
	forgeClient Forge,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		cfg:       cfg,
		publish:   publish,
		git:       gitClient,
		runtime:   runtime,
		forge:     forgeClient,
		logger:    logger,
		branches:  NewBranchNamer(publish.BranchBase),
		lookupEnv: os.LookupEnv,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one run to a terminal state and reports the outcome. Run never
// panics; a panic inside a step fails the run.
func (r *Runner) Run(ctx context.Context, trigger Trigger) *Report {
	e := &execution{
		runner:  r,
		ctx:     ctx,
		runID:   r.newRunID(),
		trigger: trigger,
		state:   &PreRunState{},
		timing: PhaseTiming{
			CreatedAt: time.Now(),
		},
	}
	e.logger = r.logger.With("runID", e.runID, "job", r.cfg.Name)

	if r.recorder != nil {
		r.recorder.Record(e.state)
	}

	e.run()
	e.cleanup()

	return e.report()
}

// execution represents a single run of the job
type execution struct {
	runner  *Runner
	ctx     context.Context
	runID   string
	trigger Trigger
	logger  *slog.Logger

	// State management
	state  State
	timing PhaseTiming

	// Workspace
	workDir     string
	checkoutDir string
	envDir      string
	repoURL     string
	baseBranch  string
	interpreter provision.Interpreter

	// Results
	result      *RefreshResult
	branch      string
	commitSHA   string
	pullRequest *forge.PullRequest
	superseded  []int
	err         error
}

// abortable states can end the run early
type abortable interface {
	State
	ToFailed() *FailedState
	ToCancelled() *CancelledState
}

type cancellable interface {
	State
	ToCancelled() *CancelledState
}

// transitionTo performs a state transition and logs it
func (e *execution) transitionTo(newState State) {
	oldStateName := e.state.Name()
	e.state = newState

	// Record state for testing if recorder is present
	if e.runner.recorder != nil {
		e.runner.recorder.Record(newState)
	}

	e.logger.Info("state transition",
		"from", oldStateName,
		"to", newState.Name())

	if isTerminal(newState) {
		return
	}
	if ledger := e.runner.ledger; ledger != nil {
		if err := ledger.UpdateJobRunStatus(e.runID, newState.Name()); err != nil {
			e.logger.Warn("failed to record state", "state", newState.Name(), "error", err)
		}
	}
}

func isTerminal(s State) bool {
	switch s.(type) {
	case *CompletedState, *SkippedState, *FailedState, *CancelledState:
		return true
	}
	return false
}

// cancelled moves to the cancelled state if the run context is done
func (e *execution) cancelled(state cancellable) bool {
	if err := e.ctx.Err(); err != nil {
		e.err = err
		e.transitionTo(state.ToCancelled())
		return true
	}
	return false
}

// abort ends the run after a failed step
func (e *execution) abort(state abortable, step Step, err error) {
	e.err = stepError(step, err)
	if e.ctx.Err() != nil {
		e.transitionTo(state.ToCancelled())
		return
	}
	e.transitionTo(state.ToFailed())
}

// run is the main run loop
func (e *execution) run() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("run panic recovered",
				"state", e.state.Name(),
				"panic", r)
			e.err = fmt.Errorf("panic in state %s: %v", e.state.Name(), r)
			e.transitionTo(&FailedState{})
			e.runFailed()
		}
	}()

	for {
		switch e.state.(type) {
		case *PreRunState:
			e.runPreRun()
		case *PendingState:
			e.runPending()
		case *GuardingState:
			e.runGuarding()
		case *CheckingOutState:
			e.runCheckingOut()
		case *ProvisioningState:
			e.runProvisioning()
		case *InstallingState:
			e.runInstalling()
		case *RefreshingState:
			e.runRefreshing()
		case *InspectingState:
			e.runInspecting()
		case *PublishingState:
			e.runPublishing()
		case *CompletedState:
			e.runCompleted()
			return
		case *SkippedState:
			e.runSkipped()
			return
		case *FailedState:
			e.runFailed()
			return
		case *CancelledState:
			e.runCancelled()
			return
		default:
			e.logger.Error("unknown state type",
				"state", fmt.Sprintf("%T", e.state))
			e.err = fmt.Errorf("unknown state %T", e.state)
			e.transitionTo(&FailedState{})
		}
	}
}

// runPreRun records the run in the ledger
func (e *execution) runPreRun() {
	state := e.state.(*PreRunState)

	if ledger := e.runner.ledger; ledger != nil {
		err := ledger.CreateJobRun(&db.JobRun{
			RunID:       e.runID,
			JobName:     e.runner.cfg.Name,
			Trigger:     string(e.trigger.Kind),
			ScheduledAt: e.trigger.ScheduledAt,
			Status:      state.Name(),
		})
		if err != nil {
			e.logger.Warn("failed to record run", "error", err)
		}
	}

	if e.cancelled(state) {
		return
	}
	e.transitionTo(state.ToPending())
}

// runPending starts the run
func (e *execution) runPending() {
	state := e.state.(*PendingState)

	if e.cancelled(state) {
		return
	}

	e.logger.Info("run started",
		"trigger", e.trigger.Kind,
		"scheduledAt", e.trigger.ScheduledAt,
		"dryRun", e.runner.dryRun)
	e.transitionTo(state.ToGuarding())
}

// runGuarding compares the acting repository with the canonical one. A
// mismatch skips the run before any side effect.
func (e *execution) runGuarding() {
	state := e.state.(*GuardingState)

	if e.cancelled(state) {
		return
	}

	cfg := e.runner.cfg
	if cfg.Repository != cfg.CanonicalRepository {
		e.logger.Info("repository guard not satisfied, skipping",
			"repository", cfg.Repository,
			"canonical", cfg.CanonicalRepository)
		e.transitionTo(state.ToSkipped())
		return
	}

	e.transitionTo(state.ToCheckingOut())
}

// runCheckingOut clones the default branch tip into a fresh work directory
func (e *execution) runCheckingOut() {
	state := e.state.(*CheckingOutState)
	e.timing.CheckoutStartedAt = time.Now()

	if e.cancelled(state) {
		return
	}

	cfg := e.runner.cfg
	e.repoURL = cfg.CloneURL
	e.baseBranch = cfg.DefaultBranch

	if e.repoURL == "" || e.baseBranch == "" {
		if e.runner.forge == nil {
			e.abort(state, StepCheckout, errors.New("clone_url and default_branch are required without a forge"))
			return
		}
		repo, err := e.runner.forge.Repository(e.ctx, cfg.CanonicalRepository)
		if err != nil {
			e.abort(state, StepCheckout, err)
			return
		}
		if e.repoURL == "" {
			e.repoURL = repo.CloneURL
		}
		if e.baseBranch == "" {
			e.baseBranch = repo.DefaultBranch
		}
	}

	workDir, err := os.MkdirTemp(cfg.WorkDir, "refresher-")
	if err != nil {
		e.abort(state, StepCheckout, fmt.Errorf("failed to create work directory: %w", err))
		return
	}
	// Subprocesses resolve relative paths against their own working directory
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		os.RemoveAll(workDir)
		e.abort(state, StepCheckout, fmt.Errorf("failed to resolve work directory: %w", err))
		return
	}
	workDir = absDir
	e.workDir = workDir
	e.checkoutDir = filepath.Join(workDir, "repo")
	e.envDir = filepath.Join(workDir, "venv")

	if err := e.runner.git.Clone(e.ctx, e.repoURL, e.baseBranch, e.checkoutDir); err != nil {
		e.abort(state, StepCheckout, err)
		return
	}

	e.transitionTo(state.ToProvisioning())
}

// runProvisioning creates the script environment outside the checkout
func (e *execution) runProvisioning() {
	state := e.state.(*ProvisioningState)

	if e.cancelled(state) {
		return
	}

	interpreter, err := e.runner.runtime.Provision(e.ctx, e.envDir)
	if err != nil {
		e.abort(state, StepProvision, err)
		return
	}
	e.interpreter = interpreter

	e.transitionTo(state.ToInstalling())
}

// runInstalling installs the single script dependency
func (e *execution) runInstalling() {
	state := e.state.(*InstallingState)

	if e.cancelled(state) {
		return
	}

	if err := e.interpreter.Install(e.ctx, e.runner.cfg.Dependency); err != nil {
		e.abort(state, StepInstall, err)
		return
	}

	e.transitionTo(state.ToRefreshing())
}

// runRefreshing runs the refresh script. The credential is only ever placed
// in this process's environment.
func (e *execution) runRefreshing() {
	state := e.state.(*RefreshingState)
	e.timing.RefreshStartedAt = time.Now()

	if e.cancelled(state) {
		return
	}

	cfg := e.runner.cfg
	credential, ok := e.runner.lookupEnv(cfg.CredentialEnv)
	if !ok || credential == "" {
		e.abort(state, StepRefresh, fmt.Errorf("%w: %s", ErrCredentialMissing, cfg.CredentialEnv))
		return
	}

	err := e.interpreter.Run(e.ctx, e.checkoutDir, cfg.Script, map[string]string{
		cfg.CredentialEnv: credential,
	})
	if err != nil {
		e.abort(state, StepRefresh, err)
		return
	}

	e.transitionTo(state.ToInspecting())
}

// runInspecting compares the tracked file with the committed version
func (e *execution) runInspecting() {
	state := e.state.(*InspectingState)

	if e.cancelled(state) {
		return
	}

	path := e.runner.cfg.TrackedPath
	before, _, err := e.runner.git.HeadFile(e.ctx, e.checkoutDir, path)
	if err != nil {
		e.abort(state, StepInspect, err)
		return
	}

	after, err := os.ReadFile(filepath.Join(e.checkoutDir, filepath.FromSlash(path)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.abort(state, StepInspect, fmt.Errorf("failed to read %s: %w", path, err))
		return
	}

	e.result = NewRefreshResult(path, before, after)
	e.logger.Info("tracked file inspected",
		"path", path,
		"changed", e.result.Changed,
		"beforeBytes", len(before),
		"afterBytes", len(after))

	if !e.result.Changed {
		e.transitionTo(state.ToCompleted())
		return
	}
	if e.runner.dryRun {
		e.logger.Info("dry run, not publishing")
		e.transitionTo(state.ToCompleted())
		return
	}

	e.transitionTo(state.ToPublishing())
}

// runPublishing pushes a new branch with one commit and opens a pull request
func (e *execution) runPublishing() {
	state := e.state.(*PublishingState)
	e.timing.PublishStartedAt = time.Now()

	if e.cancelled(state) {
		return
	}

	if e.runner.forge == nil {
		e.abort(state, StepPublish, errors.New("no forge configured"))
		return
	}

	cfg := e.runner.cfg
	pub := e.runner.publish
	e.branch = e.runner.branches.Next()

	if err := e.runner.git.CreateBranch(e.ctx, e.checkoutDir, e.branch); err != nil {
		e.abort(state, StepPublish, err)
		return
	}

	sha, err := e.runner.git.CommitPath(e.ctx, e.checkoutDir, cfg.TrackedPath, pub.CommitMessage, pub.Identity())
	if err != nil {
		e.abort(state, StepPublish, err)
		return
	}
	e.commitSHA = sha

	if err := e.runner.git.Push(e.ctx, e.checkoutDir, pub.Remote, e.branch); err != nil {
		e.abort(state, StepPublish, err)
		return
	}

	pr, err := e.runner.forge.CreatePullRequest(e.ctx, cfg.CanonicalRepository, forge.NewPullRequest{
		Title: pub.PullRequestTitle,
		Body:  pub.PullRequestBody,
		Head:  e.branch,
		Base:  e.baseBranch,
	})
	if err != nil {
		e.abort(state, StepPublish, err)
		return
	}
	e.pullRequest = pr

	if pub.CloseSuperseded {
		closed, err := e.runner.forge.CloseSuperseded(e.ctx, cfg.CanonicalRepository, e.runner.branches.Prefix(), pr.Number)
		if err != nil {
			e.logger.Warn("failed to close superseded pull requests", "error", err)
		}
		e.superseded = closed
	}

	e.transitionTo(state.ToCompleted())
}

// runCompleted handles successful completion
func (e *execution) runCompleted() {
	e.timing.CompletedAt = time.Now()
	e.logger.Info("run completed successfully",
		"outcome", e.outcome(),
		"branch", e.branch,
		"duration", e.timing.Duration())
	e.complete()
}

// runSkipped handles a guard mismatch
func (e *execution) runSkipped() {
	e.timing.CompletedAt = time.Now()
	e.logger.Info("run skipped")
	e.complete()
}

// runFailed handles failure
func (e *execution) runFailed() {
	e.timing.CompletedAt = time.Now()
	attrs := []any{"error", e.err}
	var stepErr *StepError
	if errors.As(e.err, &stepErr) {
		attrs = append(attrs, "step", stepErr.Step, "class", stepErr.Class())
		if code := stepErr.ExitCode(); code >= 0 {
			attrs = append(attrs, "exitCode", code)
		}
	}
	e.logger.Error("run failed", attrs...)
	e.complete()
}

// runCancelled handles cancellation
func (e *execution) runCancelled() {
	e.timing.CompletedAt = time.Now()
	e.logger.Warn("run cancelled", "error", e.err)
	e.complete()
}

// complete writes the terminal ledger row
func (e *execution) complete() {
	ledger := e.runner.ledger
	if ledger == nil {
		return
	}

	c := db.Completion{
		Status:  e.state.Name(),
		Outcome: string(e.outcome()),
		Branch:  e.branch,
	}
	if e.pullRequest != nil {
		c.PullRequestURL = e.pullRequest.URL
	}
	if e.err != nil {
		msg := e.err.Error()
		c.Error = &msg
	}

	if err := ledger.CompleteJobRun(e.runID, c); err != nil {
		e.logger.Warn("failed to record run completion", "error", err)
	}
}

func (e *execution) outcome() Outcome {
	switch e.state.(type) {
	case *SkippedState:
		return OutcomeSkipped
	case *FailedState:
		return OutcomeFailed
	case *CancelledState:
		return OutcomeCancelled
	case *CompletedState:
		switch {
		case e.pullRequest != nil:
			return OutcomeProposed
		case e.result != nil && e.result.Changed:
			return OutcomeDryRun
		default:
			return OutcomeUnchanged
		}
	}
	return OutcomeFailed
}

// cleanup discards the work directory unless configured to keep it
func (e *execution) cleanup() {
	if e.workDir == "" {
		return
	}
	if e.runner.cfg.KeepWorkDir {
		e.logger.Info("keeping work directory", "path", e.workDir)
		return
	}
	if err := os.RemoveAll(e.workDir); err != nil {
		e.logger.Warn("failed to remove work directory", "path", e.workDir, "error", err)
	}
}

func (e *execution) report() *Report {
	return &Report{
		RunID:       e.runID,
		Trigger:     e.trigger,
		Outcome:     e.outcome(),
		FinalState:  e.state.Name(),
		Result:      e.result,
		Branch:      e.branch,
		CommitSHA:   e.commitSHA,
		PullRequest: e.pullRequest,
		Superseded:  e.superseded,
		Err:         e.err,
		Timing:      e.timing,
	}
}
