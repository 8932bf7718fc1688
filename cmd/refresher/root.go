package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/livinlefevreloca/refresher/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// flagKeys maps persistent flags onto config keys
var flagKeys = map[string]string{
	"log-level":  "logging.level",
	"log-format": "logging.format",
	"db":         "database.dsn",
}

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "refresher",
		Short: "Periodic user-agent refresh job",
		Long: `refresher keeps a generated data file in a repository up to date. On a
monthly schedule or on demand it checks out the repository, runs the refresh
script in an isolated environment and opens a pull request when the tracked
file changed.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (TOML)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("db", "refresher.db", "path of the run ledger database")

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
		newWorkflowCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// bindFlags binds the flags that map onto config keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// loadConfig resolves defaults, the config file, environment and flags, and
// builds the logger.
func loadConfig(cmd *cobra.Command, opts *rootOptions, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg, err := config.LoadConfig(opts.configFile, v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cfg.Logging.NewLogger(logOut)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("configuration loaded",
		"config_file", opts.configFile,
		"database", cfg.Database.DSN,
		"schedule", cfg.Scheduler.Schedule,
		"repository", cfg.Job.Repository,
		"canonical_repository", cfg.Job.CanonicalRepository)

	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "refresher", version)
		},
	}
}
