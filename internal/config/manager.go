// Package config loads, persists and watches the WindowLapse configuration
// file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/WindowLapse/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g.
// WINDOWLAPSE_CAPTURE_WINDOW_TITLE.
const EnvPrefix = "WINDOWLAPSE"

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindFloat
	kindBool
)

// keys lists every settable key with its value type.
var keys = map[string]keyKind{
	"capture.window_title":      kindString,
	"capture.exact_match":       kindBool,
	"capture.interval_seconds":  kindFloat,
	"capture.output_dir":        kindString,
	"capture.base_name":         kindString,
	"capture.fps":               kindInt,
	"capture.use_compositor":    kindBool,
	"capture.preview":           kindBool,
	"capture.preview_max_width": kindInt,
	"encoder.ffmpeg_path":       kindString,
	"encoder.codec":             kindString,
	"encoder.preset":            kindString,
	"encoder.crf":               kindInt,
	"encoder.settle_ms":         kindInt,
	"server_port":               kindInt,
	"log_level":                 kindString,
	"log_pretty":                kindBool,
}

// Keys returns the settable configuration keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper

	mu       sync.RWMutex
	config   *Config
	watchers []func(*Config)
	watching bool
}

// DefaultPath returns $HOME/.config/windowlapse/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "windowlapse", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: path,
		v:          newViper(path),
	}

	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("window_title", cfg.Capture.WindowTitle).
		Float64("interval_seconds", cfg.Capture.IntervalSeconds).
		Msg("Config loaded")
	return m, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("capture.window_title", d.Capture.WindowTitle)
	v.SetDefault("capture.exact_match", d.Capture.ExactMatch)
	v.SetDefault("capture.interval_seconds", d.Capture.IntervalSeconds)
	v.SetDefault("capture.output_dir", d.Capture.OutputDir)
	v.SetDefault("capture.base_name", d.Capture.BaseName)
	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.use_compositor", d.Capture.UseCompositor)
	v.SetDefault("capture.preview", d.Capture.Preview)
	v.SetDefault("capture.preview_max_width", d.Capture.PreviewMaxWidth)
	v.SetDefault("encoder.ffmpeg_path", d.Encoder.FFmpegPath)
	v.SetDefault("encoder.codec", d.Encoder.Codec)
	v.SetDefault("encoder.preset", d.Encoder.Preset)
	v.SetDefault("encoder.crf", d.Encoder.CRF)
	v.SetDefault("encoder.settle_ms", d.Encoder.SettleMS)
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	return v
}

// decode merges defaults, file and environment into a validated Config.
func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.ReadInConfig()
}

// Update replaces the configuration after validating it.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Set parses value according to key's type, applies it and saves.
func (m *Manager) Set(key, value string) error {
	kind, ok := keys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var typed any
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		typed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		typed = f
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		typed = b
	default:
		typed = value
	}

	cfg := m.Get()
	if err := apply(cfg, key, typed); err != nil {
		return err
	}
	return m.Update(cfg)
}

// Value returns the effective value of key, including defaults and
// environment overrides.
func (m *Manager) Value(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := keys[key]; !ok {
		return nil, false
	}
	return m.v.Get(key), true
}

func apply(cfg *Config, key string, value any) error {
	switch key {
	case "capture.window_title":
		cfg.Capture.WindowTitle = value.(string)
	case "capture.exact_match":
		cfg.Capture.ExactMatch = value.(bool)
	case "capture.interval_seconds":
		cfg.Capture.IntervalSeconds = value.(float64)
	case "capture.output_dir":
		cfg.Capture.OutputDir = value.(string)
	case "capture.base_name":
		cfg.Capture.BaseName = value.(string)
	case "capture.fps":
		cfg.Capture.FPS = value.(int)
	case "capture.use_compositor":
		cfg.Capture.UseCompositor = value.(bool)
	case "capture.preview":
		cfg.Capture.Preview = value.(bool)
	case "capture.preview_max_width":
		cfg.Capture.PreviewMaxWidth = value.(int)
	case "encoder.ffmpeg_path":
		cfg.Encoder.FFmpegPath = value.(string)
	case "encoder.codec":
		cfg.Encoder.Codec = value.(string)
	case "encoder.preset":
		cfg.Encoder.Preset = value.(string)
	case "encoder.crf":
		cfg.Encoder.CRF = value.(int)
	case "encoder.settle_ms":
		cfg.Encoder.SettleMS = value.(int)
	case "server_port":
		cfg.ServerPort = value.(int)
	case "log_level":
		cfg.LogLevel = strings.ToLower(value.(string))
	case "log_pretty":
		cfg.LogPretty = value.(bool)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// OnChange registers fn to run with the new configuration whenever the
// file changes on disk. Invalid edits are logged and ignored.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
}

// Watch starts watching the configuration file.
func (m *Manager) Watch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching {
		return
	}
	m.watching = true
	m.v.OnConfigChange(m.reload)
	m.v.WatchConfig()
}

func (m *Manager) reload(e fsnotify.Event) {
	log := logger.WithComponent("config")
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	m.mu.Lock()
	cfg, err := m.decode()
	if err != nil {
		m.mu.Unlock()
		log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
		return
	}
	m.config = cfg
	watchers := slices.Clone(m.watchers)
	m.mu.Unlock()

	log.Info().Str("path", e.Name).Msg("Config reloaded")
	for _, fn := range watchers {
		c := *cfg
		fn(&c)
	}
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
