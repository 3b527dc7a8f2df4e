package pipewire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Portal handles xdg-desktop-portal screen casting via D-Bus
type Portal struct {
	conn          *dbus.Conn
	log           zerolog.Logger
	sessionHandle dbus.ObjectPath
	nodeID        uint32
	mu            sync.Mutex
	restoreToken  string
	tokenPath     string
	requestSeq    int
}

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

const (
	requestTimeout = 30 * time.Second
	// Source selection waits on the user picking a window in the dialog.
	selectTimeout = 60 * time.Second
)

// DefaultTokenPath is where the portal restore token is kept between runs.
func DefaultTokenPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	return filepath.Join(configDir, "windowlapse", "portal_token")
}

// NewPortal connects to the session bus.
func NewPortal(tokenPath string, log zerolog.Logger) (*Portal, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	p := &Portal{
		conn:      conn,
		log:       log,
		tokenPath: tokenPath,
	}
	p.restoreToken = loadRestoreToken(tokenPath)
	return p, nil
}

// Close closes the portal session and the bus connection
func (p *Portal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionHandle != "" {
		p.conn.Object(portalService, p.sessionHandle).Call(sessionIface+".Close", 0)
		p.sessionHandle = ""
	}
	return p.conn.Close()
}

// NodeID returns the PipeWire node of the negotiated stream
func (p *Portal) NodeID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodeID
}

// StartScreenCast runs CreateSession, SelectSources and Start. With a saved
// restore token the portal skips the selection dialog.
func (p *Portal) StartScreenCast(sourceTypes uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	results, err := p.request("CreateSession", requestTimeout, map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(p.token("session")),
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	sessionHandle, err := sessionHandleFrom(results)
	if err != nil {
		return err
	}
	p.sessionHandle = sessionHandle
	p.log.Debug().Str("session", string(sessionHandle)).Msg("Created portal session")

	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(sourceTypes),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(CursorModeHidden)),
		"persist_mode": dbus.MakeVariant(uint32(PersistModeApplication)),
	}
	if p.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(p.restoreToken)
		p.log.Debug().Msg("Using saved restore token")
	}
	if _, err := p.request("SelectSources", selectTimeout, options, sessionHandle); err != nil {
		return fmt.Errorf("failed to select sources: %w", err)
	}

	results, err = p.request("Start", requestTimeout, map[string]dbus.Variant{}, sessionHandle, "")
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	if v, ok := results["restore_token"]; ok {
		if token, ok := v.Value().(string); ok && token != "" {
			p.restoreToken = token
			if err := saveRestoreToken(p.tokenPath, token); err != nil {
				p.log.Debug().Err(err).Msg("Failed to save restore token")
			}
		}
	}

	streams, ok := results["streams"]
	if !ok {
		return fmt.Errorf("no streams in response")
	}
	nodeID, err := ParseStreams(streams.Value())
	if err != nil {
		return err
	}
	p.nodeID = nodeID
	p.log.Info().Uint32("node_id", nodeID).Msg("Screen cast started")
	return nil
}

// request calls a ScreenCast method and waits for its Request.Response
// signal. args precede the trailing options dictionary.
func (p *Portal) request(method string, timeout time.Duration, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	options["handle_token"] = dbus.MakeVariant(p.token(method))

	// Subscribe before the call so a fast response is not missed.
	responseChan := make(chan *dbus.Signal, 10)
	matchRule := fmt.Sprintf("type='signal',interface='%s',member='Response'", requestIface)
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		p.log.Warn().Err(err).Msg("Failed to add match rule")
	}
	p.conn.Signal(responseChan)
	defer p.conn.RemoveSignal(responseChan)

	var requestPath dbus.ObjectPath
	callArgs := append(args, options)
	if err := p.conn.Object(portalService, portalPath).Call(screenCastIface+"."+method, 0, callArgs...).Store(&requestPath); err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	p.log.Debug().Str("request_path", string(requestPath)).Str("method", method).Msg("Waiting for portal response")

	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for %s response", method)
		case sig := <-responseChan:
			if sig.Path != requestPath || sig.Name != requestIface+".Response" {
				continue
			}
			return parseResponse(method, sig.Body)
		}
	}
}

func (p *Portal) token(prefix string) string {
	p.requestSeq++
	return fmt.Sprintf("windowlapse_%s_%d_%d", prefix, os.Getpid(), p.requestSeq)
}

func parseResponse(method string, body []interface{}) (map[string]dbus.Variant, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("invalid %s response", method)
	}
	code, ok := body[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("invalid %s response code %T", method, body[0])
	}
	if code != 0 {
		return nil, fmt.Errorf("%s denied (code %d)", method, code)
	}
	results := map[string]dbus.Variant{}
	if len(body) > 1 {
		if r, ok := body[1].(map[string]dbus.Variant); ok {
			results = r
		}
	}
	return results, nil
}

func sessionHandleFrom(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("no session handle in response")
	}
	switch h := v.Value().(type) {
	case dbus.ObjectPath:
		return h, nil
	case string:
		return dbus.ObjectPath(h), nil
	default:
		return "", fmt.Errorf("unexpected session_handle type: %T", h)
	}
}

// ParseStreams extracts the first node id from an a(ua{sv}) streams value.
func ParseStreams(value interface{}) (uint32, error) {
	switch v := value.(type) {
	case [][]interface{}:
		if len(v) > 0 && len(v[0]) > 0 {
			if nodeID, ok := v[0][0].(uint32); ok {
				return nodeID, nil
			}
		}
	case []interface{}:
		if len(v) > 0 {
			if stream, ok := v[0].([]interface{}); ok && len(stream) > 0 {
				if nodeID, ok := stream[0].(uint32); ok {
					return nodeID, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("unknown streams format %T", value)
}

type restoreTokenFile struct {
	Token string `json:"token"`
}

func loadRestoreToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var token restoreTokenFile
	if err := json.Unmarshal(data, &token); err != nil {
		return ""
	}
	return token.Token
}

func saveRestoreToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(restoreTokenFile{Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
