package capture

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/WindowLapse/internal/frame"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// X11Source is the legacy blit path: the window is redirected through the
// Composite extension and its off-screen pixmap is read back with GetImage,
// so partially obscured or background windows still paint their content.
type X11Source struct {
	conn             *xgb.Conn
	compositeEnabled bool
	depth            byte
	log              zerolog.Logger
	mu               sync.Mutex
}

// NewX11Source initializes the Composite extension on conn when available.
func NewX11Source(conn *xgb.Conn, log zerolog.Logger) *X11Source {
	s := &X11Source{
		conn:  conn,
		depth: xproto.Setup(conn).DefaultScreen(conn).RootDepth,
		log:   log,
	}
	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available - obscured windows may capture as black")
	} else {
		s.compositeEnabled = true
		log.Debug().Msg("Composite extension initialized")
	}
	return s
}

// Name implements Source.
func (s *X11Source) Name() string {
	return "x11-blit"
}

// Capture implements Source.
func (s *X11Source) Capture(h window.Handle) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h == 0 {
		return nil, &Error{Kind: WindowNotFound, Op: "capture"}
	}
	win := xproto.Window(h)

	attrs, err := xproto.GetWindowAttributes(s.conn, win).Reply()
	if err != nil {
		return nil, nativeError("get window attributes", err)
	}
	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := s.findCapturableChild(win)
		if err != nil {
			return nil, &Error{Kind: WindowGeometryUnavailable, Op: "find capturable child", Err: err}
		}
		s.log.Debug().Stringer("window", h).Uint32("child", uint32(child)).Msg("using capturable child window")
		win = child
	}

	geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, nativeError("get window geometry", err)
	}
	if geom.Width == 0 || geom.Height == 0 {
		return nil, &Error{Kind: WindowGeometryUnavailable, Op: "get window geometry"}
	}

	return s.blit(win, int(geom.Width), int(geom.Height))
}

func (s *X11Source) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(s.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(s.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(s.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := s.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}
	return 0, fmt.Errorf("no capturable child under 0x%x", uint32(parent))
}

func (s *X11Source) blit(win xproto.Window, width, height int) (*frame.Frame, error) {
	drawable := xproto.Drawable(win)

	if s.compositeEnabled {
		if err := composite.RedirectWindowChecked(s.conn, win, composite.RedirectAutomatic).Check(); err != nil {
			s.log.Debug().Err(err).Uint32("window", uint32(win)).Msg("composite redirect failed, reading window directly")
		} else {
			defer composite.UnredirectWindow(s.conn, win, composite.RedirectAutomatic)
			if pixmap, err := xproto.NewPixmapId(s.conn); err == nil {
				if err := composite.NameWindowPixmapChecked(s.conn, win, pixmap).Check(); err == nil {
					drawable = xproto.Drawable(pixmap)
					defer xproto.FreePixmap(s.conn, pixmap)
				}
			}
		}
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, nativeError("get image", err)
	}
	if s.depth != 24 && s.depth != 32 {
		return nil, &Error{Kind: NativeAPIFailure, Op: "get image", Err: fmt.Errorf("unsupported depth %d", s.depth)}
	}

	return frame.FromBGRX(reply.Data, width, height, width*frame.BytesPerPixel), nil
}
