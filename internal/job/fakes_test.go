package job

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/forge"
	"github.com/livinlefevreloca/refresher/internal/git"
	"github.com/livinlefevreloca/refresher/internal/provision"
)

const (
	testTrackedPath = "src/streamlink/session/http_useragents.py"
	testCredential  = "USERAGENTS_API_KEY"
	testSecret      = "s3cr3t-api-key-value"
	oldContent      = "CHROME = \"120.0\"\n"
	newContent      = "CHROME = \"131.0\"\n"
)

type commitCall struct {
	Dir     string
	Path    string
	Message string
	ID      git.Identity
}

// fakeGit serves a checkout from an in-memory HEAD
type fakeGit struct {
	mu sync.Mutex

	head map[string]string

	cloneErr  error
	commitErr error
	pushErr   error

	clones   []string
	branches []string
	commits  []commitCall
	pushes   []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{head: map[string]string{testTrackedPath: oldContent}}
}

func (f *fakeGit) Clone(ctx context.Context, repoURL, branch, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clones = append(f.clones, repoURL+"#"+branch)
	if f.cloneErr != nil {
		return f.cloneErr
	}
	for p, content := range f.head {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGit) HeadFile(ctx context.Context, dir, path string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.head[path]
	if !ok {
		return nil, false, nil
	}
	return []byte(content), true, nil
}

func (f *fakeGit) CreateBranch(ctx context.Context, dir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, branch)
	return nil
}

func (f *fakeGit) CommitPath(ctx context.Context, dir, path, message string, id git.Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits = append(f.commits, commitCall{Dir: dir, Path: path, Message: message, ID: id})
	return fmt.Sprintf("%040d", len(f.commits)), nil
}

func (f *fakeGit) Push(ctx context.Context, dir, remote, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushes = append(f.pushes, remote+":"+branch)
	return nil
}

type runCall struct {
	Dir    string
	Script string
	Env    map[string]string
}

// fakeInterpreter stands in for the refresh script: Run writes output to the
// tracked path
type fakeInterpreter struct {
	installed  []string
	installErr error

	runs   []runCall
	output *string
	runErr error
	onRun  func(ctx context.Context) error
}

func (f *fakeInterpreter) Install(ctx context.Context, pkg string) error {
	f.installed = append(f.installed, pkg)
	return f.installErr
}

func (f *fakeInterpreter) Run(ctx context.Context, dir, script string, env map[string]string) error {
	f.runs = append(f.runs, runCall{Dir: dir, Script: script, Env: env})
	if f.onRun != nil {
		if err := f.onRun(ctx); err != nil {
			return err
		}
	}
	if f.runErr != nil {
		return f.runErr
	}
	if f.output != nil {
		full := filepath.Join(dir, filepath.FromSlash(testTrackedPath))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		return os.WriteFile(full, []byte(*f.output), 0o644)
	}
	return nil
}

type fakeRuntime struct {
	interp  *fakeInterpreter
	err     error
	panics  bool
	envDirs []string
}

func (f *fakeRuntime) Provision(ctx context.Context, envDir string) (provision.Interpreter, error) {
	if f.panics {
		panic("runtime exploded")
	}
	f.envDirs = append(f.envDirs, envDir)
	if f.err != nil {
		return nil, f.err
	}
	return f.interp, nil
}

type fakeForge struct {
	mu sync.Mutex

	repo    *forge.Repository
	repoErr error

	created []forge.NewPullRequest
	prErr   error
	next    int

	superseded []string
	closeErr   error
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		repo: &forge.Repository{
			FullName:      "streamlink/streamlink",
			DefaultBranch: "master",
			CloneURL:      "https://github.com/streamlink/streamlink.git",
		},
		next: 6000,
	}
}

func (f *fakeForge) Repository(ctx context.Context, fullName string) (*forge.Repository, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return f.repo, nil
}

func (f *fakeForge) CreatePullRequest(ctx context.Context, fullName string, pr forge.NewPullRequest) (*forge.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prErr != nil {
		return nil, f.prErr
	}
	f.created = append(f.created, pr)
	f.next++
	return &forge.PullRequest{
		Number: f.next,
		URL:    fmt.Sprintf("https://github.com/%s/pull/%d", fullName, f.next),
		Head:   pr.Head,
	}, nil
}

func (f *fakeForge) CloseSuperseded(ctx context.Context, fullName, headPrefix string, keep int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.superseded = append(f.superseded, fmt.Sprintf("%s#%d", headPrefix, keep))
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return []int{keep - 1}, nil
}

// harness wires a runner to fakes
type harness struct {
	git     *fakeGit
	interp  *fakeInterpreter
	runtime *fakeRuntime
	forge   *fakeForge
	env     map[string]string
	logs    *bytes.Buffer
	cfg     Config
	publish PublishConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Repository = cfg.CanonicalRepository
	cfg.DefaultBranch = "master"
	cfg.CloneURL = "https://github.com/streamlink/streamlink.git"
	cfg.WorkDir = t.TempDir()

	interp := &fakeInterpreter{}
	return &harness{
		git:     newFakeGit(),
		interp:  interp,
		runtime: &fakeRuntime{interp: interp},
		forge:   newFakeForge(),
		env:     map[string]string{testCredential: testSecret},
		logs:    &bytes.Buffer{},
		cfg:     cfg,
		publish: DefaultPublishConfig(),
	}
}

func (h *harness) scriptWrites(content string) {
	h.interp.output = &content
}

func (h *harness) runner(opts ...Option) *Runner {
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lookup := func(key string) (string, bool) {
		v, ok := h.env[key]
		return v, ok
	}
	opts = append([]Option{WithLookupEnv(lookup)}, opts...)
	return NewRunner(h.cfg, h.publish, h.git, h.runtime, h.forge, logger, opts...)
}

// fixedClock returns a namer clock frozen at t
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// recordingLedger keeps ledger calls in memory
type recordingLedger struct {
	created   []*db.JobRun
	statuses  []string
	completed []db.Completion
	failAll   error
}

func (l *recordingLedger) CreateJobRun(run *db.JobRun) error {
	l.created = append(l.created, run)
	return l.failAll
}

func (l *recordingLedger) UpdateJobRunStatus(runID string, status string) error {
	l.statuses = append(l.statuses, status)
	return l.failAll
}

func (l *recordingLedger) CompleteJobRun(runID string, c db.Completion) error {
	l.completed = append(l.completed, c)
	return l.failAll
}
