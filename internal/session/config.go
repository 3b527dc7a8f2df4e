package session

import (
	"fmt"
	"strings"
	"time"
)

// DefaultFPS is the fixed playback rate of generated videos.
const DefaultFPS = 20

// Config is fixed for the lifetime of a session.
type Config struct {
	WindowTitle   string
	ExactMatch    bool
	Interval      time.Duration
	OutputDir     string
	BaseName      string
	FPS           int
	UseCompositor bool
}

// ConfigError rejects a Config before any resource is acquired.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid capture config: %s %s", e.Field, e.Reason)
}

// Validate checks required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WindowTitle) == "" {
		return &ConfigError{Field: "window title", Reason: "must not be empty"}
	}
	if c.Interval <= 0 {
		return &ConfigError{Field: "interval", Reason: fmt.Sprintf("must be positive, got %s", c.Interval)}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return &ConfigError{Field: "output directory", Reason: "must not be empty"}
	}
	if c.FPS < 0 {
		return &ConfigError{Field: "fps", Reason: fmt.Sprintf("must not be negative, got %d", c.FPS)}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.BaseName == "" {
		c.BaseName = "output"
	}
	c.WindowTitle = strings.TrimSpace(c.WindowTitle)
	return c
}
