package window

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no window matches the requested title.
var ErrNotFound = errors.New("window not found")

// Handle is an opaque reference to a top-level window (an X11 window id).
type Handle uint32

// String formats the handle the way xwininfo and xdotool print ids.
func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uint32(h))
}

// Info describes a window as seen by a Locator.
type Info struct {
	Handle Handle   `json:"handle"`
	Title  string   `json:"title"`
	Class  string   `json:"class"`
	PID    int      `json:"pid"`
	Bounds Geometry `json:"geometry"`
}

// Geometry is a window rectangle in root coordinates.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Locator finds capture targets. Implementations talk to the display server.
type Locator interface {
	// FindWindowByTitle resolves a title to a handle. With exact set the
	// title must match completely, otherwise a case-insensitive substring
	// match is accepted. Fails with ErrNotFound.
	FindWindowByTitle(title string, exact bool) (Handle, error)

	// ListWindows returns visible windows that carry a title.
	ListWindows() ([]Info, error)

	// Close releases the display connection.
	Close() error
}

// MatchTitle applies the locator title rules to a single candidate.
func MatchTitle(candidate, want string, exact bool) bool {
	if want == "" || candidate == "" {
		return false
	}
	if exact {
		return candidate == want
	}
	return strings.Contains(strings.ToLower(candidate), strings.ToLower(want))
}

// FindIn picks the first matching window from a listing, preferring exact
// matches over substring matches when exact is false.
func FindIn(windows []Info, title string, exact bool) (Handle, error) {
	for _, w := range windows {
		if MatchTitle(w.Title, title, true) {
			return w.Handle, nil
		}
	}
	if !exact {
		for _, w := range windows {
			if MatchTitle(w.Title, title, false) {
				return w.Handle, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, title)
}
