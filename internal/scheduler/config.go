package scheduler

import (
	"fmt"
	"time"

	"github.com/livinlefevreloca/refresher/internal/cron"
)

// Config defines when the job fires and how runs are bounded
type Config struct {
	// Cron expression, five fields or a descriptor such as @monthly
	Schedule string `toml:"schedule"`

	// IANA location the schedule is evaluated in
	Location string `toml:"location"`

	// Upper bound on a single run, after which it is cancelled
	RunTimeout time.Duration `toml:"run_timeout"`

	// Manual triggers queued while a run is active
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// Timeout for queueing a manual trigger
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`
}

// DefaultConfig returns the monthly schedule defaults
func DefaultConfig() Config {
	return Config{
		Schedule:         "0 0 1 * *",
		Location:         "UTC",
		RunTimeout:       30 * time.Minute,
		InboxBufferSize:  4,
		InboxSendTimeout: 5 * time.Second,
	}
}

// Validate validates scheduler configuration and returns error if invalid
func (c Config) Validate() error {
	if _, err := cron.Parse(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}

	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}

	if c.RunTimeout <= 0 {
		return fmt.Errorf("RunTimeout must be positive, got %v", c.RunTimeout)
	}

	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", c.InboxBufferSize)
	}

	if c.InboxSendTimeout <= 0 {
		return fmt.Errorf("InboxSendTimeout must be positive, got %v", c.InboxSendTimeout)
	}

	return nil
}
