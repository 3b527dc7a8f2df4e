package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowLapse/internal/recorder"
	"github.com/bryanchriswhite/WindowLapse/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a window into a timelapse video",
	Long: `Record the window whose title matches --window (or capture.window_title
from the config file) until interrupted.

Only frames that differ from the previously kept frame are encoded. Send
SIGUSR1 to pause or resume; the video continues in the same file. Ctrl+C
or SIGTERM stops the recording and verifies the video file.`,
	Example: `  # Record a window every half second
  windowlapse record --window "Krita" --interval 0.5

  # Record with the control API and live preview on port 9090
  windowlapse record --window "Krita" --serve --port 9090

  # Pause or resume a running recording
  pkill -USR1 windowlapse`,
	RunE: runRecord,
}

var (
	recordFlags captureFlags
	recordServe bool
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordFlags.register(recordCmd)
	recordCmd.Flags().BoolVar(&recordServe, "serve", false, "also run the HTTP control API")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd, configMgr, cfg, &recordFlags, recordServe)
	if err != nil {
		return err
	}
	shutdown, err := a.run(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	if err := a.rec.Start(cmd.Context(), "", 0); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	out := cmd.OutOrStdout()
	snap := a.rec.Snapshot()
	fmt.Fprintf(out, "Recording %q (%s) into %s\n", snap.WindowTitle, snap.Window, snap.OutputPath)
	if a.server != nil {
		fmt.Fprintf(out, "Control API on http://localhost:%d\n", a.port)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop, send SIGUSR1 to pause/resume")

	for sig := range sigChan {
		if sig == syscall.SIGUSR1 {
			if err := a.rec.Execute(cmd.Context(), recorder.CommandToggle); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Resume failed: %v\n", err)
			}
			continue
		}
		break
	}

	return reportStop(cmd, a.rec.Stop())
}

// reportStop prints the outcome of a stop and turns an unverified output
// into a command error.
func reportStop(cmd *cobra.Command, res session.StopResult) error {
	out := cmd.OutOrStdout()
	if !res.Stopped {
		fmt.Fprintln(out, "Nothing was recording")
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("recording stopped, but output not confirmed: %w", res.Err)
	}
	if res.File == nil {
		fmt.Fprintln(out, "Stopped")
		return nil
	}
	fmt.Fprintf(out, "Saved %s (%d bytes, %d frames retained of %d captured)\n",
		res.File.Path, res.File.Size, res.Snapshot.SavedCount, res.Snapshot.FrameNumber)
	return nil
}
