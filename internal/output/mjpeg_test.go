package output

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
)

func TestWriteFrameSkipsEncodingWithoutClients(t *testing.T) {
	m := NewMJPEGOutput(Config{}, zerolog.Nop())
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if err := m.WriteFrame(frame.New(4, 4)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := m.Snapshot(); ok {
		t.Fatalf("frame encoded although nobody was watching")
	}
	if s := m.Stats(); s.Skipped != 1 || s.Frames != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{}, zerolog.Nop())
	if err := m.WriteFrame(frame.New(1, 1)); err == nil {
		t.Fatalf("expected error before Start")
	}
}

func TestStreamDeliversDownscaledJPEG(t *testing.T) {
	m := NewMJPEGOutput(Config{MaxWidth: 8}, zerolog.Nop())
	m.Start()
	defer m.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/preview/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		m.StreamHandler()(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !m.HasClients() {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.WriteFrame(frame.New(16, 10)); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, ok := m.Snapshot()
	if !ok {
		t.Fatalf("expected an encoded frame")
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 8 || cfg.Height != 5 {
		t.Fatalf("expected 8x5 preview, got %dx%d", cfg.Width, cfg.Height)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not exit after client cancel")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestSnapshotHandlerWithoutFrame(t *testing.T) {
	m := NewMJPEGOutput(Config{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	m.SnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/preview/snapshot", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamHandlerRejectsWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	m.StreamHandler()(rec, httptest.NewRequest(http.MethodGet, "/preview/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
