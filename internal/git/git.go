package git

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/livinlefevreloca/refresher/internal/shell"
)

// Identity is a git author or committer
type Identity struct {
	Name  string
	Email string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// Client drives the git CLI against local working copies
type Client struct {
	exec   shell.Executor
	token  string
	logger *slog.Logger
}

// NewClient creates a git client. A non-empty token authenticates HTTPS clones
// and pushes through a per-command header. It is never written to the
// checkout's config, where the refresh script could read it.
func NewClient(exec shell.Executor, token string, logger *slog.Logger) *Client {
	return &Client{exec: exec, token: token, logger: logger}
}

func (c *Client) git(ctx context.Context, dir string, env map[string]string, args ...string) (string, error) {
	res, err := c.exec.Run(ctx, shell.Command{
		Name: "git",
		Args: args,
		Dir:  dir,
		Env:  env,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Clone makes a shallow single-branch clone of repoURL into dir. An empty
// branch clones the remote's default branch.
func (c *Client) Clone(ctx context.Context, repoURL, branch, dir string) error {
	c.logger.Info("cloning repository", "url", repoURL, "branch", branch, "output", dir)

	env, err := c.authEnv(repoURL)
	if err != nil {
		return fmt.Errorf("failed to prepare repository URL: %w", err)
	}

	args := []string{"clone", "--depth", "1", "--single-branch", "--no-tags"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dir)

	if _, err := c.git(ctx, "", env, args...); err != nil {
		return fmt.Errorf("git clone %s failed: %w", repoURL, c.redact(err))
	}

	return nil
}

// HeadFile returns the content of path as committed at HEAD. exists is false
// when the path is not tracked.
func (c *Client) HeadFile(ctx context.Context, dir, filePath string) (content []byte, exists bool, err error) {
	p := path.Clean(filePath)

	listed, err := c.git(ctx, dir, nil, "ls-tree", "--name-only", "HEAD", "--", p)
	if err != nil {
		return nil, false, fmt.Errorf("git ls-tree failed: %w", err)
	}
	if listed == "" {
		return nil, false, nil
	}

	res, err := c.exec.Run(ctx, shell.Command{
		Name: "git",
		Args: []string{"show", "HEAD:" + p},
		Dir:  dir,
	})
	if err != nil {
		return nil, false, fmt.Errorf("git show failed: %w", err)
	}

	return res.Stdout, true, nil
}

// CreateBranch creates and checks out a new branch at HEAD
func (c *Client) CreateBranch(ctx context.Context, dir, branch string) error {
	c.logger.Info("creating branch", "path", dir, "branch", branch)

	if _, err := c.git(ctx, dir, nil, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("failed to create branch: %w", err)
	}

	return nil
}

// CommitPath commits the working-tree state of exactly one path, using id as
// both author and committer. Returns the new commit SHA.
func (c *Client) CommitPath(ctx context.Context, dir, filePath, message string, id Identity) (string, error) {
	p := path.Clean(filePath)

	if _, err := c.git(ctx, dir, nil, "add", "--", p); err != nil {
		return "", fmt.Errorf("git add failed: %w", err)
	}

	env := map[string]string{
		"GIT_AUTHOR_NAME":     id.Name,
		"GIT_AUTHOR_EMAIL":    id.Email,
		"GIT_COMMITTER_NAME":  id.Name,
		"GIT_COMMITTER_EMAIL": id.Email,
	}
	_, err := c.git(ctx, dir, env,
		"-c", "user.name="+id.Name,
		"-c", "user.email="+id.Email,
		"-c", "commit.gpgsign=false",
		"commit", "--no-verify", "--message", message, "--only", "--", p)
	if err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	sha, err := c.git(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return sha, nil
}

// Push publishes branch to remote. Existing remote branches are never
// overwritten.
func (c *Client) Push(ctx context.Context, dir, remote, branch string) error {
	c.logger.Info("pushing branch", "remote", remote, "branch", branch)

	var env map[string]string
	if c.token != "" {
		remoteURL, err := c.git(ctx, dir, nil, "remote", "get-url", remote)
		if err != nil {
			return fmt.Errorf("failed to resolve remote %s: %w", remote, err)
		}
		if env, err = c.authEnv(remoteURL); err != nil {
			return fmt.Errorf("failed to prepare remote URL: %w", err)
		}
	}

	ref := "refs/heads/" + branch
	if _, err := c.git(ctx, dir, env, "push", "--porcelain", remote, ref+":"+ref); err != nil {
		return fmt.Errorf("git push failed: %w", c.redact(err))
	}

	return nil
}

// authEnv returns environment that sets an authorization header for HTTPS
// requests to repoURL's host, through GIT_CONFIG_* so the token stays out of
// argv and out of .git/config.
func (c *Client) authEnv(repoURL string) (map[string]string, error) {
	if c.token == "" {
		c.logger.Debug("no token configured, using git without authentication")
		return nil, nil
	}

	if !strings.HasPrefix(repoURL, "https://") {
		return nil, nil
	}

	u, err := url.Parse(repoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid repository URL: %w", err)
	}

	return map[string]string{
		"GIT_CONFIG_COUNT":   "1",
		"GIT_CONFIG_KEY_0":   "http." + u.Scheme + "://" + u.Host + "/.extraheader",
		"GIT_CONFIG_VALUE_0": "AUTHORIZATION: basic " + c.basicAuth(),
	}, nil
}

func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte("x-access-token:" + c.token))
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redact hides the token and its encoded header in err's message
func (c *Client) redact(err error) error {
	if c.token == "" {
		return err
	}
	msg := err.Error()
	redacted := strings.ReplaceAll(strings.ReplaceAll(msg, c.token, "***"), c.basicAuth(), "***")
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}
