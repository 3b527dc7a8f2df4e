package recorder

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
)

// StatusIdle is shown before the first capture and after a plain stop.
const StatusIdle = "Not recording"

// FormatElapsed renders running time as mm:ss, or h:mm:ss past an hour.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// progressStatus describes a running or paused session.
func progressStatus(snap session.Snapshot) string {
	label := "Recording"
	if snap.State == session.Paused {
		label = "Paused"
	}
	return fmt.Sprintf("%s (elapsed %s, retained %d)", label, FormatElapsed(snap.Elapsed), snap.SavedCount)
}

// finalizedStatus describes the outcome of a stop.
func finalizedStatus(info *video.FileInfo, err error) string {
	if err != nil {
		return fmt.Sprintf("Stopped, but output not confirmed: %v", err)
	}
	if info == nil {
		return "Stopped"
	}
	return fmt.Sprintf("Stopped, video saved: %s (%d bytes)", info.Path, info.Size)
}

func errorStatus(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

func captureErrorStatus(err error) string {
	return fmt.Sprintf("Capture error: %v", err)
}
