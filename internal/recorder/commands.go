package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Command names accepted by Execute. They match what the hotkey binding
// layer sends.
const (
	CommandStart         = "StartCaptureCommand"
	CommandPause         = "PauseCaptureCommand"
	CommandStop          = "StopCaptureCommand"
	CommandToggle        = "ToggleCaptureCommand"
	CommandRefreshWindow = "RefreshWindowListCommand"
)

// ErrUnknownCommand is returned by Execute for names it does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Commands returns the accepted command names in sorted order.
func Commands() []string {
	names := []string{CommandStart, CommandPause, CommandStop, CommandToggle, CommandRefreshWindow}
	sort.Strings(names)
	return names
}

// Execute runs a named command with the configured settings.
func (r *Recorder) Execute(ctx context.Context, name string) error {
	r.log.Debug().Str("command", name).Msg("executing command")

	switch name {
	case CommandStart:
		return r.Start(ctx, "", 0)
	case CommandPause:
		r.Pause()
		return nil
	case CommandStop:
		return r.Stop().Err
	case CommandToggle:
		return r.Toggle(ctx)
	case CommandRefreshWindow:
		_, err := r.Windows(true)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
