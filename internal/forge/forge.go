// Package forge talks to the GitHub API: repository metadata, pull request
// creation and closing superseded automated pull requests.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"
)

// Repository is the subset of repository metadata the job needs
type Repository struct {
	FullName      string
	DefaultBranch string
	CloneURL      string
}

// NewPullRequest describes a pull request to open
type NewPullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequest is an opened pull request
type PullRequest struct {
	Number int
	URL    string
	Head   string
}

// Client wraps a go-github client
type Client struct {
	logger *slog.Logger
	client *github.Client
}

// New creates a GitHub client. An empty token gives an unauthenticated client.
// An empty apiURL targets api.github.com.
func New(ctx context.Context, token, apiURL string, logger *slog.Logger) (*Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		hc = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(hc)

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	return &Client{
		logger: logger,
		client: client,
	}, nil
}

// SplitRepository splits "owner/repo"
func SplitRepository(fullName string) (owner, repo string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected 'owner/repo'", fullName)
	}
	return parts[0], parts[1], nil
}

// Repository fetches repository metadata
func (c *Client) Repository(ctx context.Context, fullName string) (*Repository, error) {
	owner, repo, err := SplitRepository(fullName)
	if err != nil {
		return nil, err
	}

	r, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", fullName, err)
	}

	return &Repository{
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      r.GetCloneURL(),
	}, nil
}

// CreatePullRequest opens a pull request from a branch of the same repository
func (c *Client) CreatePullRequest(ctx context.Context, fullName string, pr NewPullRequest) (*PullRequest, error) {
	owner, repo, err := SplitRepository(fullName)
	if err != nil {
		return nil, err
	}

	c.logger.Info("creating pull request", "repo", fullName, "head", pr.Head, "base", pr.Base)

	created, resp, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title:               github.String(pr.Title),
		Body:                github.String(pr.Body),
		Head:                github.String(pr.Head),
		Base:                github.String(pr.Base),
		MaintainerCanModify: github.Bool(true),
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
			c.logger.Error("pull request rejected", "repo", fullName, "head", pr.Head, "message", ghErr.Message)
		}
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	c.logger.Info("pull request created", "number", created.GetNumber(), "url", created.GetHTMLURL(), "response_status", resp.Status)

	return &PullRequest{
		Number: created.GetNumber(),
		URL:    created.GetHTMLURL(),
		Head:   created.GetHead().GetRef(),
	}, nil
}

// OpenPullRequests lists open pull requests whose head branch starts with
// headPrefix.
func (c *Client) OpenPullRequests(ctx context.Context, fullName, headPrefix string) ([]PullRequest, error) {
	owner, repo, err := SplitRepository(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var matched []PullRequest
	for {
		prs, resp, err := c.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests: %w", err)
		}

		for _, pr := range prs {
			head := pr.GetHead().GetRef()
			if !strings.HasPrefix(head, headPrefix) {
				continue
			}
			matched = append(matched, PullRequest{
				Number: pr.GetNumber(),
				URL:    pr.GetHTMLURL(),
				Head:   head,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return matched, nil
}

// CloseSuperseded closes every open pull request whose head starts with
// headPrefix, except keep, leaving a comment pointing at keep. It returns the
// numbers it closed; failures on individual pull requests are joined into err
// and do not stop the others.
func (c *Client) CloseSuperseded(ctx context.Context, fullName, headPrefix string, keep int) ([]int, error) {
	owner, repo, err := SplitRepository(fullName)
	if err != nil {
		return nil, err
	}

	open, err := c.OpenPullRequests(ctx, fullName, headPrefix)
	if err != nil {
		return nil, err
	}

	var closed []int
	var errs []error
	for _, pr := range open {
		if pr.Number == keep {
			continue
		}

		comment := &github.IssueComment{Body: github.String(fmt.Sprintf("Superseded by #%d", keep))}
		if _, _, err := c.client.Issues.CreateComment(ctx, owner, repo, pr.Number, comment); err != nil {
			errs = append(errs, fmt.Errorf("comment on #%d: %w", pr.Number, err))
			continue
		}

		if _, _, err := c.client.PullRequests.Edit(ctx, owner, repo, pr.Number, &github.PullRequest{
			State: github.String("closed"),
		}); err != nil {
			errs = append(errs, fmt.Errorf("close #%d: %w", pr.Number, err))
			continue
		}

		c.logger.Info("closed superseded pull request", "number", pr.Number, "superseded_by", keep)
		closed = append(closed, pr.Number)
	}

	return closed, errors.Join(errs...)
}
