package output

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
)

// MJPEGOutput streams frames as Motion JPEG over HTTP.
type MJPEGOutput struct {
	config  Config
	log     zerolog.Logger
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	current    []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	skipped    uint64
	startTime  time.Time
}

// Stats is a point-in-time view of the stream.
type Stats struct {
	Running    bool      `json:"running"`
	Clients    int       `json:"clients"`
	Frames     uint64    `json:"frames"`
	Skipped    uint64    `json:"skipped"`
	LastUpdate time.Time `json:"last_update"`
	StartTime  time.Time `json:"start_time"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config, log zerolog.Logger) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 80
	}
	return &MJPEGOutput{
		config:  config,
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start begins accepting frames. Handlers are mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.skipped = 0
	m.log.Info().Int("max_width", m.config.MaxWidth).Msg("MJPEG preview started")
	return nil
}

// Stop closes every client stream.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.log.Info().Uint64("frames", m.frameCount).Msg("MJPEG preview stopped")
	return nil
}

// WriteFrame encodes f and fans it out to connected clients. With nobody
// watching the frame is dropped before encoding.
func (m *MJPEGOutput) WriteFrame(f *frame.Frame) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	if !m.HasClients() {
		m.mu.Lock()
		m.skipped++
		m.mu.Unlock()
		return nil
	}

	if m.config.MaxWidth > 0 && f.Width > m.config.MaxWidth {
		h := f.Height * m.config.MaxWidth / f.Width
		if h < 1 {
			h = 1
		}
		f = f.Scale(m.config.MaxWidth, h)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, f.ToRGBA(), &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	m.frameMu.Lock()
	m.current = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// slow client, skip this frame
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG preview"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// HasClients reports whether anyone is watching.
func (m *MJPEGOutput) HasClients() bool {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients) > 0
}

// Snapshot returns the most recent JPEG, if any.
func (m *MJPEGOutput) Snapshot() ([]byte, bool) {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.current, m.current != nil
}

// Stats returns stream counters.
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	s := Stats{Running: m.running, Frames: m.frameCount, Skipped: m.skipped, StartTime: m.startTime}
	m.mu.RUnlock()

	m.clientsMu.RLock()
	s.Clients = len(m.clients)
	m.clientsMu.RUnlock()

	m.frameMu.RLock()
	s.LastUpdate = m.lastUpdate
	m.frameMu.RUnlock()
	return s
}

func (m *MJPEGOutput) addClient() chan []byte {
	ch := make(chan []byte, 2)
	m.clientsMu.Lock()
	m.clients[ch] = struct{}{}
	n := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info().Int("clients", n).Msg("MJPEG client connected")
	return ch
}

func (m *MJPEGOutput) removeClient(ch chan []byte) {
	m.clientsMu.Lock()
	delete(m.clients, ch)
	n := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info().Int("clients", n).Msg("MJPEG client disconnected")
}

// StreamHandler serves multipart/x-mixed-replace JPEG frames until the
// client leaves or the output stops.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "preview not running", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Connection", "close")

		ch := m.addClient()
		defer m.removeClient(ch)

		if data, ok := m.Snapshot(); ok {
			if err := writePart(w, data); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				if err := writePart(w, data); err != nil {
					return
				}
			}
		}
	}
}

// SnapshotHandler serves the latest frame as a single JPEG.
func (m *MJPEGOutput) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := m.Snapshot()
		if !ok {
			http.Error(w, "no frame yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// ViewerHandler serves a bare page embedding the stream.
func (m *MJPEGOutput) ViewerHandler(streamPath string) http.HandlerFunc {
	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>WindowLapse preview</title>
    <style>
        body { margin: 0; background: #000; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        img { max-width: 100vw; max-height: 100vh; object-fit: contain; }
    </style>
</head>
<body>
    <img src="%s" alt="WindowLapse preview">
</body>
</html>`, streamPath)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
