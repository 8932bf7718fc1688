package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/livinlefevreloca/refresher/internal/config"
	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/forge"
	"github.com/livinlefevreloca/refresher/internal/git"
	"github.com/livinlefevreloca/refresher/internal/job"
	"github.com/livinlefevreloca/refresher/internal/provision"
	"github.com/livinlefevreloca/refresher/internal/shell"
	"github.com/livinlefevreloca/refresher/tools/migrator"
)

// openLedger opens the run ledger and applies pending migrations
func openLedger(cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	ledger, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}

	version, err := migrator.GetCurrentVersion(ledger.DB)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}

	logger.Debug("run ledger ready", "dsn", ledger.Path(), "schema_version", version)
	return ledger, nil
}

// newRunner wires the job runner from configuration. The forge token and the
// script credential are withheld from every subprocess unless a step passes
// them explicitly.
func newRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger, ledger *db.DB, dryRun bool) (*job.Runner, error) {
	token := os.Getenv(cfg.GitHub.TokenEnv)
	if token == "" {
		logger.Warn("forge token not set, clone and publication will be unauthenticated",
			"token_env", cfg.GitHub.TokenEnv)
	}

	executor := shell.NewLocal(logger, cfg.Job.CredentialEnv, cfg.GitHub.TokenEnv)
	gitClient := git.NewClient(executor, token, logger)
	provisioner := provision.NewProvisioner(cfg.Runtime, executor, logger)

	forgeClient, err := forge.New(ctx, token, cfg.GitHub.APIURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create forge client: %w", err)
	}

	opts := []job.Option{job.WithDryRun(dryRun)}
	if ledger != nil {
		opts = append(opts, job.WithLedger(ledger))
	}

	return job.NewRunner(cfg.Job, cfg.Publish, gitClient, provisioner, forgeClient, logger, opts...), nil
}
