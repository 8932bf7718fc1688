// Package provision prepares the isolated script runtime used by the refresh
// step: a pinned interpreter, a private virtual environment and a single
// installed dependency.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/livinlefevreloca/refresher/internal/shell"
)

// Config selects the interpreter and pins its version
type Config struct {
	// Interpreter is the fallback executable when python<Version> is not found
	Interpreter string `toml:"interpreter"`

	// Version must prefix the interpreter's reported version, "3.12" accepts 3.12.x
	Version string `toml:"version"`
}

// Validate checks the runtime configuration
func (c Config) Validate() error {
	if c.Interpreter == "" {
		return fmt.Errorf("runtime interpreter must not be empty")
	}
	if c.Version == "" {
		return fmt.Errorf("runtime version must not be empty")
	}
	return nil
}

// Interpreter runs inside a provisioned environment
type Interpreter interface {
	Install(ctx context.Context, pkg string) error
	Run(ctx context.Context, dir, script string, env map[string]string) error
}

// VersionError reports an interpreter that does not match the pinned version
type VersionError struct {
	Interpreter string
	Want        string
	Got         string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("interpreter %s reports version %q, want %s", e.Interpreter, e.Got, e.Want)
}

// Provisioner creates script environments
type Provisioner struct {
	cfg    Config
	exec   shell.Executor
	logger *slog.Logger
}

// NewProvisioner creates a provisioner
func NewProvisioner(cfg Config, exec shell.Executor, logger *slog.Logger) *Provisioner {
	return &Provisioner{cfg: cfg, exec: exec, logger: logger}
}

// Provision resolves the pinned interpreter and creates a virtual environment
// at envDir. envDir must not live inside the checkout the script modifies.
func (p *Provisioner) Provision(ctx context.Context, envDir string) (Interpreter, error) {
	interpreter, version, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}

	p.logger.Info("creating virtual environment",
		"interpreter", interpreter,
		"version", version,
		"path", envDir)

	if _, err := p.exec.Run(ctx, shell.Command{
		Name: interpreter,
		Args: []string{"-m", "venv", envDir},
	}); err != nil {
		return nil, fmt.Errorf("failed to create virtual environment: %w", err)
	}

	return &Environment{
		Dir:    envDir,
		exec:   p.exec,
		logger: p.logger,
	}, nil
}

// resolve tries python<Version> then the configured interpreter, returning
// the first one whose reported version matches.
func (p *Provisioner) resolve(ctx context.Context) (string, string, error) {
	candidates := []string{"python" + p.cfg.Version}
	if p.cfg.Interpreter != candidates[0] {
		candidates = append(candidates, p.cfg.Interpreter)
	}

	var lastErr error
	for _, candidate := range candidates {
		res, err := p.exec.Run(ctx, shell.Command{Name: candidate, Args: []string{"--version"}})
		if err != nil {
			if ctx.Err() != nil {
				return "", "", err
			}
			p.logger.Debug("interpreter not usable", "interpreter", candidate, "error", err)
			lastErr = err
			continue
		}

		// Older interpreters print the version on stderr
		reported := parseVersion(string(res.Stdout) + string(res.Stderr))
		if !MatchesVersion(reported, p.cfg.Version) {
			lastErr = &VersionError{Interpreter: candidate, Want: p.cfg.Version, Got: reported}
			continue
		}

		return candidate, reported, nil
	}

	return "", "", fmt.Errorf("no interpreter matching version %s: %w", p.cfg.Version, lastErr)
}

func parseVersion(output string) string {
	fields := strings.Fields(output)
	for i, f := range fields {
		if strings.EqualFold(f, "python") && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 0 {
		return fields[len(fields)-1]
	}
	return ""
}

// MatchesVersion reports whether reported is the pinned version or a patch
// release of it.
func MatchesVersion(reported, pinned string) bool {
	if reported == "" || pinned == "" {
		return false
	}
	return reported == pinned || strings.HasPrefix(reported, pinned+".")
}

// Environment is a provisioned virtual environment
type Environment struct {
	Dir    string
	exec   shell.Executor
	logger *slog.Logger
}

// Python returns the path of the environment's interpreter
func (e *Environment) Python() string {
	return filepath.Join(e.Dir, "bin", "python")
}

// Install installs a single package into the environment
func (e *Environment) Install(ctx context.Context, pkg string) error {
	e.logger.Info("installing dependency", "package", pkg)

	_, err := e.exec.Run(ctx, shell.Command{
		Name: e.Python(),
		Args: []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input", pkg},
		Env:  e.baseEnv(),
	})
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", pkg, err)
	}

	return nil
}

// Run executes script from dir. env is added to this process only; values
// are never logged.
func (e *Environment) Run(ctx context.Context, dir, script string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	e.logger.Info("running script", "script", script, "dir", dir, "injected", keys)

	merged := e.baseEnv()
	for k, v := range env {
		merged[k] = v
	}

	_, err := e.exec.Run(ctx, shell.Command{
		Name: e.Python(),
		Args: []string{script},
		Dir:  dir,
		Env:  merged,
	})
	if err != nil {
		return fmt.Errorf("script %s failed: %w", script, err)
	}

	return nil
}

func (e *Environment) baseEnv() map[string]string {
	return map[string]string{
		"VIRTUAL_ENV":             e.Dir,
		"PATH":                    filepath.Join(e.Dir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH"),
		"PIP_NO_CACHE_DIR":        "1",
		"PYTHONDONTWRITEBYTECODE": "1",
	}
}
