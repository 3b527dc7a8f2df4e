package capture

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
)

// ErrNoFrame is reported by the compositor path when nothing has been
// delivered yet. It is not a failure; callers fall back.
var ErrNoFrame = errors.New("no frame yet")

// ErrorKind classifies acquisition failures.
type ErrorKind int

const (
	WindowNotFound ErrorKind = iota + 1
	WindowGeometryUnavailable
	NativeAPIFailure
)

func (k ErrorKind) String() string {
	switch k {
	case WindowNotFound:
		return "window not found"
	case WindowGeometryUnavailable:
		return "window geometry unavailable"
	case NativeAPIFailure:
		return "native API failure"
	default:
		return "unknown capture error"
	}
}

// Error is an acquisition failure carrying the platform error code when one
// is known (X11 error codes are 1..255, 0 means none).
type Error struct {
	Kind ErrorKind
	Code int
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err is a capture Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// nativeError maps an X11 protocol error onto the capture taxonomy.
func nativeError(op string, err error) *Error {
	return &Error{Kind: NativeAPIFailure, Code: x11Code(err), Op: op, Err: err}
}

func x11Code(err error) int {
	switch err.(type) {
	case xproto.WindowError:
		return xproto.BadWindow
	case xproto.DrawableError:
		return xproto.BadDrawable
	case xproto.MatchError:
		return xproto.BadMatch
	case xproto.PixmapError:
		return xproto.BadPixmap
	case xproto.AllocError:
		return xproto.BadAlloc
	case xproto.ValueError:
		return xproto.BadValue
	}
	return 0
}
