package session

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/WindowLapse/internal/capture"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// State is the lifecycle phase of a Session.
type State int

const (
	Idle State = iota
	Starting
	Running
	Paused
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is a read-only copy of session progress.
type Snapshot struct {
	ID               string        `json:"id,omitempty"`
	State            State         `json:"state"`
	Running          bool          `json:"running"`
	Initialized      bool          `json:"initialized"`
	FrameNumber      uint64        `json:"frame_number"`
	SavedCount       uint64        `json:"saved_count"`
	HasRetainedFrame bool          `json:"has_retained_frame"`
	OutputPath       string        `json:"output_path,omitempty"`
	WindowTitle      string        `json:"window_title,omitempty"`
	Window           window.Handle `json:"window,omitempty"`
	Mode             capture.Mode  `json:"mode,omitempty"`
	Interval         time.Duration `json:"interval"`
	Elapsed          time.Duration `json:"elapsed"`
	LastError        string        `json:"last_error,omitempty"`
}

// EventKind tags an Event.
type EventKind int

const (
	// EventStateChanged fires after every lifecycle transition.
	EventStateChanged EventKind = iota
	// EventProgress fires after every successful tick.
	EventProgress
	// EventTickError fires when a tick failed and the worker is backing off.
	EventTickError
	// EventFinalized fires during Stop once the video has been closed.
	EventFinalized
)

// Event is delivered to the Listener. Progress and tick errors come from
// the worker goroutine; the rest from the goroutine calling Start/Pause/Stop.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	Err      error
	File     *video.FileInfo
}

// Listener observes session events. It must not block or call back into
// Start, Pause or Stop.
type Listener func(Event)

// StopResult reports the outcome of Stop.
type StopResult struct {
	// Stopped is false when Stop found nothing to stop.
	Stopped bool
	// File is set when a video was finalized, even if verification failed.
	File *video.FileInfo
	// Err is the finalize/verification failure, typically IncompleteOutput.
	Err error
	// Snapshot is the session as it was just before the reset.
	Snapshot Snapshot
}
