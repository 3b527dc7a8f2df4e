package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "windowlapse", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, path
}

func TestNewManagerWritesDefaults(t *testing.T) {
	m, path := newTestManager(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	cfg := m.Get()
	if cfg.Capture.Interval() != 100*time.Millisecond {
		t.Fatalf("interval = %v, want 100ms", cfg.Capture.Interval())
	}
	if cfg.Capture.FPS != 20 || cfg.Capture.BaseName != "output" {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.Encoder.SettleMS != 100 {
		t.Fatalf("settle = %d, want 100", cfg.Encoder.SettleMS)
	}
}

func TestLoadExistingFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "capture:\n  window_title: Krita\n  interval_seconds: 2.5\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := m.Get()
	if cfg.Capture.WindowTitle != "Krita" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not loaded: %+v", cfg)
	}
	if cfg.Capture.Interval() != 2500*time.Millisecond {
		t.Fatalf("interval = %v", cfg.Capture.Interval())
	}
	if cfg.Encoder.Codec != "libx264" {
		t.Fatalf("default codec lost: %q", cfg.Encoder.Codec)
	}
}

func TestInvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  fps: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil || !strings.Contains(err.Error(), "capture.fps") {
		t.Fatalf("expected fps validation error, got %v", err)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("WINDOWLAPSE_CAPTURE_WINDOW_TITLE", "From Env")
	m, _ := newTestManager(t)

	if got := m.Get().Capture.WindowTitle; got != "From Env" {
		t.Fatalf("window title = %q", got)
	}
	v, ok := m.Value("capture.window_title")
	if !ok || v != "From Env" {
		t.Fatalf("Value = %v, %v", v, ok)
	}
}

func TestSetPersistsTypedValues(t *testing.T) {
	m, path := newTestManager(t)

	if err := m.Set("capture.window_title", "Sketch"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("capture.interval_seconds", "0.5"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("capture.use_compositor", "false"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("server_port", "9191"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := reloaded.Get()
	if cfg.Capture.WindowTitle != "Sketch" || cfg.Capture.Interval() != 500*time.Millisecond {
		t.Fatalf("capture settings not persisted: %+v", cfg.Capture)
	}
	if cfg.Capture.UseCompositor || cfg.ServerPort != 9191 {
		t.Fatalf("typed settings not persisted: %+v", cfg)
	}
}

func TestSetRejectsBadInput(t *testing.T) {
	m, _ := newTestManager(t)

	cases := [][2]string{
		{"capture.fps", "fast"},
		{"capture.exact_match", "maybe"},
		{"capture.interval_seconds", "-1"},
		{"log_level", "loud"},
		{"no.such.key", "1"},
	}
	for _, c := range cases {
		if err := m.Set(c[0], c[1]); err == nil {
			t.Errorf("Set(%q, %q) should fail", c[0], c[1])
		}
	}
	if m.Get().Capture.IntervalSeconds != 0.1 {
		t.Fatalf("rejected value was applied")
	}
}

func TestSessionConversion(t *testing.T) {
	cfg := Defaults()
	cfg.Capture.WindowTitle = "Canvas"
	cfg.Capture.ExactMatch = true
	cfg.Capture.IntervalSeconds = 1.25

	sc := cfg.Session()
	if sc.WindowTitle != "Canvas" || !sc.ExactMatch || sc.Interval != 1250*time.Millisecond {
		t.Fatalf("unexpected session config %+v", sc)
	}
	if sc.FPS != cfg.Capture.FPS || sc.OutputDir != cfg.Capture.OutputDir {
		t.Fatalf("unexpected session config %+v", sc)
	}
	if opts := cfg.FFmpegOptions(); opts.Binary != "ffmpeg" || opts.CRF != 23 {
		t.Fatalf("unexpected ffmpeg options %+v", opts)
	}
}

func TestKeysSorted(t *testing.T) {
	k := Keys()
	if len(k) != len(keys) {
		t.Fatalf("expected %d keys, got %d", len(keys), len(k))
	}
	for i := 1; i < len(k); i++ {
		if k[i-1] > k[i] {
			t.Fatalf("keys not sorted: %v", k)
		}
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	m, path := newTestManager(t)

	changed := make(chan *Config, 4)
	m.OnChange(func(c *Config) { changed <- c })
	m.Watch()

	data := "capture:\n  window_title: Edited\n  interval_seconds: 3\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Capture.WindowTitle == "Edited" {
				if m.Get().Capture.Interval() != 3*time.Second {
					t.Fatalf("manager not updated: %+v", m.Get().Capture)
				}
				return
			}
		case <-deadline:
			t.Fatalf("config change was not observed")
		}
	}
}

func TestReloadNotifiesEveryWatcherWithItsOwnCopy(t *testing.T) {
	m, path := newTestManager(t)

	var first, second *Config
	m.OnChange(func(c *Config) {
		first = c
		c.Capture.WindowTitle = "mutated by watcher"
	})
	m.OnChange(func(c *Config) { second = c })

	data := "capture:\n  window_title: Reloaded\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	m.reload(fsnotify.Event{Name: path, Op: fsnotify.Chmod})
	if first != nil || second != nil {
		t.Fatalf("chmod event should not notify watchers")
	}

	m.reload(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if first == nil || second == nil {
		t.Fatalf("expected both watchers to be notified")
	}
	if second.Capture.WindowTitle != "Reloaded" {
		t.Fatalf("second watcher saw %q", second.Capture.WindowTitle)
	}
	if got := m.Get().Capture.WindowTitle; got != "Reloaded" {
		t.Fatalf("manager config changed through a watcher copy: %q", got)
	}
}
