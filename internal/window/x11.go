package window

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"
)

// X11Locator resolves windows through EWMH _NET_CLIENT_LIST with a
// QueryTree fallback for window managers that do not publish it.
type X11Locator struct {
	conn  *xgb.Conn
	root  xproto.Window
	log   zerolog.Logger
	atoms map[string]xproto.Atom
}

// NewX11Locator opens its own display connection.
func NewX11Locator(log zerolog.Logger) (*X11Locator, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return NewX11LocatorWithConn(conn, log), nil
}

// NewX11LocatorWithConn shares an existing connection, e.g. with the legacy
// capture source.
func NewX11LocatorWithConn(conn *xgb.Conn, log zerolog.Logger) *X11Locator {
	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &X11Locator{
		conn:  conn,
		root:  screen.Root,
		log:   log,
		atoms: make(map[string]xproto.Atom),
	}
}

// Conn exposes the display connection.
func (l *X11Locator) Conn() *xgb.Conn {
	return l.conn
}

// Close closes the display connection.
func (l *X11Locator) Close() error {
	l.conn.Close()
	return nil
}

// FindWindowByTitle implements Locator.
func (l *X11Locator) FindWindowByTitle(title string, exact bool) (Handle, error) {
	windows, err := l.ListWindows()
	if err != nil {
		return 0, err
	}
	h, err := FindIn(windows, title, exact)
	if err != nil {
		l.log.Debug().Str("title", title).Bool("exact", exact).Int("candidates", len(windows)).Msg("no window matched")
		return 0, err
	}
	l.log.Debug().Str("title", title).Stringer("handle", h).Msg("window resolved")
	return h, nil
}

// ListWindows implements Locator.
func (l *X11Locator) ListWindows() ([]Info, error) {
	windows, err := l.listEWMH()
	if err == nil && len(windows) > 0 {
		l.log.Debug().Int("count", len(windows)).Msg("ListWindows: using EWMH _NET_CLIENT_LIST")
		return windows, nil
	}
	if err != nil {
		l.log.Debug().Err(err).Msg("ListWindows: EWMH failed, falling back to QueryTree")
	}

	windows, err = l.listQueryTree()
	if err != nil {
		return nil, err
	}
	l.log.Debug().Int("count", len(windows)).Msg("ListWindows: using QueryTree fallback")
	return windows, nil
}

func (l *X11Locator) listEWMH() ([]Info, error) {
	atom, err := l.atom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}
	reply, err := xproto.GetProperty(l.conn, false, l.root, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	var windows []Info
	for _, id := range ParseWindowList(reply.Value) {
		info := l.info(xproto.Window(id))
		if info.Title == "" {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

func (l *X11Locator) listQueryTree() ([]Info, error) {
	tree, err := xproto.QueryTree(l.conn, l.root).Reply()
	if err != nil {
		return nil, err
	}
	var windows []Info
	for _, child := range tree.Children {
		info := l.info(child)
		if info.Title == "" {
			continue
		}
		windows = append(windows, info)
	}
	return windows, nil
}

func (l *X11Locator) info(win xproto.Window) Info {
	info := Info{Handle: Handle(win)}

	if geom, err := xproto.GetGeometry(l.conn, xproto.Drawable(win)).Reply(); err == nil {
		info.Bounds = Geometry{X: int(geom.X), Y: int(geom.Y), Width: int(geom.Width), Height: int(geom.Height)}
	}

	if title, err := l.property(win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	}
	if info.Title == "" {
		if title, err := l.property(win, "WM_NAME"); err == nil {
			info.Title = title
		}
	}

	if raw, err := l.property(win, "WM_CLASS"); err == nil {
		info.Class = ParseWMClass(raw)
	}

	if atom, err := l.atom("_NET_WM_PID"); err == nil {
		reply, err := xproto.GetProperty(l.conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
		if err == nil && len(reply.Value) >= 4 {
			info.PID = int(le32(reply.Value))
		}
	}
	return info
}

func (l *X11Locator) atom(name string) (xproto.Atom, error) {
	if a, ok := l.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(l.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	l.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (l *X11Locator) property(win xproto.Window, name string) (string, error) {
	atom, err := l.atom(name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(l.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property %s", name)
	}
	return string(reply.Value), nil
}

// ParseWindowList decodes a CARDINAL/WINDOW[] property value (32-bit
// little-endian ids). Trailing partial words are ignored.
func ParseWindowList(value []byte) []uint32 {
	ids := make([]uint32, 0, len(value)/4)
	for i := 0; i+4 <= len(value); i += 4 {
		ids = append(ids, le32(value[i:]))
	}
	return ids
}

// ParseWMClass returns the class part of "instance\x00class\x00", falling
// back to the instance name.
func ParseWMClass(raw string) string {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	if len(parts) >= 1 {
		return parts[0]
	}
	return ""
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
