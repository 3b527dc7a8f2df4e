package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
)

// Config is the persisted application configuration.
type Config struct {
	Capture    CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
	Encoder    EncoderConfig `json:"encoder" yaml:"encoder" mapstructure:"encoder"`
	ServerPort int           `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool          `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
}

// CaptureConfig holds the settings read when a capture session starts.
type CaptureConfig struct {
	WindowTitle     string  `json:"window_title" yaml:"window_title" mapstructure:"window_title"`
	ExactMatch      bool    `json:"exact_match" yaml:"exact_match" mapstructure:"exact_match"`
	IntervalSeconds float64 `json:"interval_seconds" yaml:"interval_seconds" mapstructure:"interval_seconds"`
	OutputDir       string  `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
	BaseName        string  `json:"base_name" yaml:"base_name" mapstructure:"base_name"`
	FPS             int     `json:"fps" yaml:"fps" mapstructure:"fps"`
	UseCompositor   bool    `json:"use_compositor" yaml:"use_compositor" mapstructure:"use_compositor"`
	Preview         bool    `json:"preview" yaml:"preview" mapstructure:"preview"`
	PreviewMaxWidth int     `json:"preview_max_width" yaml:"preview_max_width" mapstructure:"preview_max_width"`
}

// EncoderConfig configures the ffmpeg encoder and output verification.
type EncoderConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	Codec      string `json:"codec" yaml:"codec" mapstructure:"codec"`
	Preset     string `json:"preset" yaml:"preset" mapstructure:"preset"`
	CRF        int    `json:"crf" yaml:"crf" mapstructure:"crf"`
	SettleMS   int    `json:"settle_ms" yaml:"settle_ms" mapstructure:"settle_ms"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			IntervalSeconds: 0.1,
			OutputDir:       defaultOutputDir(),
			BaseName:        "output",
			FPS:             session.DefaultFPS,
			UseCompositor:   true,
			PreviewMaxWidth: 960,
		},
		Encoder: EncoderConfig{
			FFmpegPath: "ffmpeg",
			Codec:      "libx264",
			Preset:     "medium",
			CRF:        23,
			SettleMS:   int(video.DefaultSettleDelay / time.Millisecond),
		},
		ServerPort: 8090,
		LogLevel:   "info",
	}
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "output"
	}
	return filepath.Join(home, "Videos", "WindowLapse")
}

// Interval converts the configured seconds into a duration.
func (c CaptureConfig) Interval() time.Duration {
	return time.Duration(math.Round(c.IntervalSeconds * float64(time.Second)))
}

// Session returns the capture settings for a new session.
func (c *Config) Session() session.Config {
	return session.Config{
		WindowTitle:   c.Capture.WindowTitle,
		ExactMatch:    c.Capture.ExactMatch,
		Interval:      c.Capture.Interval(),
		OutputDir:     c.Capture.OutputDir,
		BaseName:      c.Capture.BaseName,
		FPS:           c.Capture.FPS,
		UseCompositor: c.Capture.UseCompositor,
	}
}

// FFmpegOptions returns the encoder settings.
func (c *Config) FFmpegOptions() video.FFmpegOptions {
	return video.FFmpegOptions{
		Binary: c.Encoder.FFmpegPath,
		Codec:  c.Encoder.Codec,
		Preset: c.Encoder.Preset,
		CRF:    c.Encoder.CRF,
	}
}

// SettleDelay is the grace period between closing the encoder and
// verifying the output file.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Encoder.SettleMS) * time.Millisecond
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects values that could never start a session. An empty
// window title is allowed here since it can be supplied per start.
func (c *Config) Validate() error {
	var problems []string
	if c.Capture.IntervalSeconds <= 0 {
		problems = append(problems, "capture.interval_seconds must be positive")
	}
	if c.Capture.FPS <= 0 {
		problems = append(problems, "capture.fps must be positive")
	}
	if c.Capture.PreviewMaxWidth < 0 {
		problems = append(problems, "capture.preview_max_width must not be negative")
	}
	if c.Encoder.CRF < 0 || c.Encoder.CRF > 51 {
		problems = append(problems, "encoder.crf must be between 0 and 51")
	}
	if c.Encoder.SettleMS < 0 {
		problems = append(problems, "encoder.settle_ms must not be negative")
	}
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		problems = append(problems, "server_port must be between 0 and 65535")
	}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
