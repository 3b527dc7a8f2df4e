// Package api serves the HTTP control surface: capture commands, status
// (polled or pushed over a websocket), window listing, configuration and
// the live preview.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/capture"
	"github.com/bryanchriswhite/WindowLapse/internal/config"
	"github.com/bryanchriswhite/WindowLapse/internal/output"
	"github.com/bryanchriswhite/WindowLapse/internal/recorder"
	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Controller is the capture surface the server drives.
type Controller interface {
	Start(ctx context.Context, title string, interval time.Duration) error
	Pause() bool
	Stop() session.StopResult
	Status() string
	Snapshot() session.Snapshot
	Subscribe(fn recorder.StatusListener) func()
	Windows(refresh bool) ([]window.Info, error)
	Execute(ctx context.Context, name string) error
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	ctrl      Controller
	configMgr *config.Manager
	preview   *output.MJPEGOutput
	upgrader  websocket.Upgrader
	log       zerolog.Logger
	http      *http.Server
}

// NewServer creates a new API server. configMgr and preview may be nil,
// in which case their routes are not registered.
func NewServer(ctrl Controller, configMgr *config.Manager, preview *output.MJPEGOutput, log zerolog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ctrl:      ctrl,
		configMgr: configMgr,
		preview:   preview,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, any origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture control
	api.HandleFunc("/capture/start", s.handleStart).Methods("POST")
	api.HandleFunc("/capture/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/capture/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/commands", s.handleListCommands).Methods("GET")
	api.HandleFunc("/commands/{name}", s.handleCommand).Methods("POST")

	// Status
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/stream", s.handleStatusStream)

	// Windows
	api.HandleFunc("/windows", s.handleWindows).Methods("GET")

	// Configuration
	if s.configMgr != nil {
		api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
		api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")
	}

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.preview != nil {
		s.router.HandleFunc("/preview", s.preview.ViewerHandler("/preview/stream")).Methods("GET")
		s.router.HandleFunc("/preview/stream", s.preview.StreamHandler()).Methods("GET")
		s.router.HandleFunc("/preview/snapshot", s.preview.SnapshotHandler()).Methods("GET")
	}

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StatusResponse is returned by GET /api/status and pushed on the status
// stream.
type StatusResponse struct {
	Status   string           `json:"status"`
	Snapshot session.Snapshot `json:"snapshot"`
}

// StartRequest is the optional body of POST /api/capture/start.
type StartRequest struct {
	WindowTitle     string  `json:"window_title"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

// StopResponse is returned by POST /api/capture/stop.
type StopResponse struct {
	Stopped  bool             `json:"stopped"`
	Path     string           `json:"path,omitempty"`
	Size     int64            `json:"size,omitempty"`
	Error    string           `json:"error,omitempty"`
	Status   string           `json:"status"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusCode maps capture start errors onto HTTP codes.
func statusCode(err error) int {
	var cfgErr *session.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case capture.IsKind(err, capture.WindowNotFound):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrUnknownCommand):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) status() StatusResponse {
	return StatusResponse{Status: s.ctrl.Status(), Snapshot: s.ctrl.Snapshot()}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.IntervalSeconds < 0 {
		writeError(w, http.StatusBadRequest, errors.New("interval_seconds must not be negative"))
		return
	}

	interval := time.Duration(req.IntervalSeconds * float64(time.Second))
	if err := s.ctrl.Start(r.Context(), req.WindowTitle, interval); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Pause()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	res := s.ctrl.Stop()
	resp := StopResponse{
		Stopped:  res.Stopped,
		Status:   s.ctrl.Status(),
		Snapshot: s.ctrl.Snapshot(),
	}
	if res.File != nil {
		resp.Path = res.File.Path
		resp.Size = res.File.Size
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, recorder.Commands())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.ctrl.Execute(r.Context(), name); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := make(chan struct{}, 1)
	unsubscribe := s.ctrl.Subscribe(func(string) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// the client never sends; reading detects when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.status()); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-updates:
			if err := conn.WriteJSON(s.status()); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") != ""
	list, err := s.ctrl.Windows(refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>WindowLapse</title>
<style>
body { font-family: sans-serif; max-width: 720px; margin: 2em auto; }
button { margin-right: .5em; }
#status { margin: 1em 0; font-weight: bold; }
</style>
</head>
<body>
<h1>WindowLapse</h1>
<div>
<input id="title" placeholder="window title">
<button onclick="post('/api/capture/start', {window_title: document.getElementById('title').value})">Start</button>
<button onclick="post('/api/capture/pause')">Pause</button>
<button onclick="post('/api/capture/stop')">Stop</button>
</div>
<div id="status">...</div>
<img id="preview" src="/preview/stream" alt="" style="max-width:100%">
<script>
function post(path, body) {
  fetch(path, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: body ? JSON.stringify(body) : null});
}
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/status/stream');
ws.onmessage = (e) => { document.getElementById('status').textContent = JSON.parse(e.data).status; };
</script>
</body>
</html>`
