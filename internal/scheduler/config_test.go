package scheduler

import (
	"testing"
	"time"
)

// TestDefaultConfig verifies that the defaults describe the monthly run and pass validation.
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Schedule != "0 0 1 * *" {
		t.Errorf("expected monthly schedule, got %q", config.Schedule)
	}
	if config.Location != "UTC" {
		t.Errorf("expected UTC, got %q", config.Location)
	}
	if config.RunTimeout != 30*time.Minute {
		t.Errorf("expected 30m run timeout, got %v", config.RunTimeout)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should pass validation, got error: %v", err)
	}
}

// TestConfigValidate_Invalid verifies that each invalid field is rejected.
func TestConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad schedule", func(c *Config) { c.Schedule = "0 0 32 * *" }},
		{"empty schedule", func(c *Config) { c.Schedule = "" }},
		{"bad location", func(c *Config) { c.Location = "Mars/Olympus_Mons" }},
		{"zero run timeout", func(c *Config) { c.RunTimeout = 0 }},
		{"negative run timeout", func(c *Config) { c.RunTimeout = -time.Second }},
		{"zero buffer", func(c *Config) { c.InboxBufferSize = 0 }},
		{"zero send timeout", func(c *Config) { c.InboxSendTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			if err := config.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
