// Package workflow renders the GitHub Actions workflow equivalent to the
// configured refresh job, for repositories that run it on hosted CI instead
// of "refresher serve".
package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/livinlefevreloca/refresher/internal/job"
	"gopkg.in/yaml.v3"
)

// Workflow is a GitHub Actions workflow document
type Workflow struct {
	Name        string            `yaml:"name"`
	On          Triggers          `yaml:"on"`
	Permissions map[string]string `yaml:"permissions,omitempty"`
	Jobs        map[string]Job    `yaml:"jobs"`
}

// Triggers lists the events that start the workflow
type Triggers struct {
	Schedule         []Cron    `yaml:"schedule,omitempty"`
	WorkflowDispatch *struct{} `yaml:"workflow_dispatch"`
}

// Cron is one schedule entry
type Cron struct {
	Cron string `yaml:"cron"`
}

// Job is a workflow job
type Job struct {
	Name   string `yaml:"name,omitempty"`
	If     string `yaml:"if,omitempty"`
	RunsOn string `yaml:"runs-on"`
	Steps  []Step `yaml:"steps"`
}

// Step is a workflow step
type Step struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
}

// Params are the job settings the workflow is built from
type Params struct {
	Schedule       string
	RuntimeVersion string
	Job            job.Config
	Publish        job.PublishConfig
}

// Build assembles the workflow for p
func Build(p Params) *Workflow {
	id := p.Publish.Identity()
	identity := fmt.Sprintf("%s <%s>", id.Name, id.Email)

	return &Workflow{
		Name: "Update " + p.Job.Name,
		On: Triggers{
			Schedule:         []Cron{{Cron: p.Schedule}},
			WorkflowDispatch: &struct{}{},
		},
		Permissions: map[string]string{
			"contents":      "write",
			"pull-requests": "write",
		},
		Jobs: map[string]Job{
			"update": {
				Name:   p.Job.Name,
				If:     fmt.Sprintf("github.repository == '%s'", p.Job.CanonicalRepository),
				RunsOn: "ubuntu-latest",
				Steps: []Step{
					{
						Uses: "actions/checkout@v4",
					},
					{
						Name: "Set up Python",
						Uses: "actions/setup-python@v5",
						With: map[string]string{"python-version": p.RuntimeVersion},
					},
					{
						Name: "Install dependencies",
						Run:  "python -m pip install " + p.Job.Dependency,
					},
					{
						Name: "Run refresh script",
						Run:  "python " + p.Job.Script,
						Env: map[string]string{
							p.Job.CredentialEnv: fmt.Sprintf("${{ secrets.%s }}", p.Job.CredentialEnv),
						},
					},
					{
						Name: "Create pull request",
						Uses: "peter-evans/create-pull-request@v6",
						With: map[string]string{
							"add-paths":      p.Job.TrackedPath,
							"author":         identity,
							"committer":      identity,
							"branch":         p.Publish.BranchBase,
							"branch-suffix":  "timestamp",
							"commit-message": p.Publish.CommitMessage,
							"title":          p.Publish.PullRequestTitle,
							"body":           p.Publish.PullRequestBody,
							"delete-branch":  "true",
						},
					},
				},
			},
		},
	}
}

// Render encodes w as YAML with two-space indentation
func Render(w *Workflow) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("failed to encode workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode workflow: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders w to path, creating parent directories
func WriteFile(w *Workflow, path string) error {
	data, err := Render(w)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}

	return nil
}
