// Package shell runs external commands for the refresh job's steps.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// Command describes a single process invocation
type Command struct {
	Name string
	Args []string
	Dir  string

	// Env is appended to the sanitized host environment. Later entries win.
	Env map[string]string
}

// String renders the command line without environment values
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result contains the captured output of a finished command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a command ran but exited non-zero
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Executor runs commands
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Local executes commands on the host. Variables named in Drop are removed
// from the inherited environment of every command; a command only sees them
// if it passes them explicitly in Command.Env.
type Local struct {
	Drop   []string
	Logger *slog.Logger
}

// NewLocal creates a host executor that withholds the given variables
func NewLocal(logger *slog.Logger, drop ...string) *Local {
	return &Local{Drop: drop, Logger: logger}
}

// Run starts the command in its own process group and waits for it.
// Cancelling ctx kills the whole group.
func (l *Local) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("command name is empty")
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = BuildEnv(os.Environ(), l.Drop, c.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative PID targets the process group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if l.Logger != nil {
		l.Logger.Debug("running command", "command", c.String(), "dir", c.Dir)
	}

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s: %w", c.String(), ctx.Err())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{
				Command:  c.String(),
				ExitCode: result.ExitCode,
				Stderr:   lastLine(stderr.String()),
			}
		}
		return result, fmt.Errorf("failed to execute %s: %w", c.String(), err)
	}

	return result, nil
}

// BuildEnv returns base without the dropped keys, followed by extra in
// deterministic order.
func BuildEnv(base []string, drop []string, extra map[string]string) []string {
	dropped := make(map[string]bool, len(drop)+len(extra))
	for _, key := range drop {
		dropped[key] = true
	}
	for key := range extra {
		dropped[key] = true
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if dropped[key] {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}

	return env
}

// lastLine keeps error messages short; scripts tend to print tracebacks
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
