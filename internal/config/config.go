package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/job"
	"github.com/livinlefevreloca/refresher/internal/provision"
	"github.com/livinlefevreloca/refresher/internal/scheduler"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, REFRESHER_JOB_REPOSITORY
// overrides job.repository
const EnvPrefix = "REFRESHER"

// Config represents the application configuration
type Config struct {
	Database  db.Config         `toml:"database"`
	Scheduler scheduler.Config  `toml:"scheduler"`
	Job       job.Config        `toml:"job"`
	Runtime   provision.Config  `toml:"runtime"`
	Publish   job.PublishConfig `toml:"publish"`
	GitHub    GitHubConfig      `toml:"github"`
	Logging   LoggingConfig     `toml:"logging"`
}

// GitHubConfig holds forge API settings
type GitHubConfig struct {
	// Empty targets api.github.com
	APIURL string `toml:"api_url"`

	// Environment variable holding the token for clone, push and API calls
	TokenEnv string `toml:"token_env"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:  db.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Job:       job.DefaultConfig(),
		Runtime: provision.Config{
			Interpreter: "python3",
			Version:     "3.12",
		},
		Publish: job.DefaultPublishConfig(),
		GitHub: GitHubConfig{
			TokenEnv: "GITHUB_TOKEN",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables and command-line flags bound to v (see ApplyOverrides)
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load from file if specified
	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if v != nil {
		if err := ApplyOverrides(config, v); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// NewViper returns a viper instance reading REFRESHER_* environment variables.
// job.repository also falls back to GITHUB_REPOSITORY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BindEnv only fails without a key
	_ = v.BindEnv("job.repository", EnvPrefix+"_JOB_REPOSITORY", "GITHUB_REPOSITORY")

	return v
}

type override struct {
	apply func(v *viper.Viper, key string, c *Config) error
}

func stringField(field func(c *Config) *string) override {
	return override{apply: func(v *viper.Viper, key string, c *Config) error {
		*field(c) = v.GetString(key)
		return nil
	}}
}

func boolField(field func(c *Config) *bool) override {
	return override{apply: func(v *viper.Viper, key string, c *Config) error {
		*field(c) = v.GetBool(key)
		return nil
	}}
}

func durationField(field func(c *Config) *time.Duration) override {
	return override{apply: func(v *viper.Viper, key string, c *Config) error {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		*field(c) = d
		return nil
	}}
}

// overrides lists the keys that can be set from the environment or flags
var overrides = map[string]override{
	"database.dsn":             stringField(func(c *Config) *string { return &c.Database.DSN }),
	"database.busy_timeout":    durationField(func(c *Config) *time.Duration { return &c.Database.BusyTimeout }),
	"scheduler.schedule":       stringField(func(c *Config) *string { return &c.Scheduler.Schedule }),
	"scheduler.location":       stringField(func(c *Config) *string { return &c.Scheduler.Location }),
	"scheduler.run_timeout":    durationField(func(c *Config) *time.Duration { return &c.Scheduler.RunTimeout }),
	"job.repository":           stringField(func(c *Config) *string { return &c.Job.Repository }),
	"job.canonical_repository": stringField(func(c *Config) *string { return &c.Job.CanonicalRepository }),
	"job.clone_url":            stringField(func(c *Config) *string { return &c.Job.CloneURL }),
	"job.default_branch":       stringField(func(c *Config) *string { return &c.Job.DefaultBranch }),
	"job.credential_env":       stringField(func(c *Config) *string { return &c.Job.CredentialEnv }),
	"job.work_dir":             stringField(func(c *Config) *string { return &c.Job.WorkDir }),
	"job.keep_work_dir":        boolField(func(c *Config) *bool { return &c.Job.KeepWorkDir }),
	"runtime.interpreter":      stringField(func(c *Config) *string { return &c.Runtime.Interpreter }),
	"runtime.version":          stringField(func(c *Config) *string { return &c.Runtime.Version }),
	"publish.close_superseded": boolField(func(c *Config) *bool { return &c.Publish.CloseSuperseded }),
	"github.api_url":           stringField(func(c *Config) *string { return &c.GitHub.APIURL }),
	"github.token_env":         stringField(func(c *Config) *string { return &c.GitHub.TokenEnv }),
	"logging.level":            stringField(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format":           stringField(func(c *Config) *string { return &c.Logging.Format }),
}

// OverrideKeys returns the keys ApplyOverrides understands, sorted
func OverrideKeys() []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyOverrides copies every key set in v onto c. Flags bound to v win over
// environment variables.
func ApplyOverrides(c *Config, v *viper.Viper) error {
	for _, key := range OverrideKeys() {
		if !v.IsSet(key) {
			continue
		}
		if err := overrides[key].apply(v, key, c); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Job.Validate(); err != nil {
		return fmt.Errorf("job: %w", err)
	}
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if c.GitHub.TokenEnv == "" {
		return fmt.Errorf("github token_env must be specified")
	}
	if c.GitHub.TokenEnv == c.Job.CredentialEnv {
		return fmt.Errorf("github token_env and job credential_env must differ")
	}

	// Logging validation
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// NewLogger builds the structured logger described by the logging section
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be json or text)", l.Format)
	}
}
