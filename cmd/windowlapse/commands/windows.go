package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowLapse/internal/logger"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List capturable windows",
	Long: `List the top-level windows known to the X11 window manager. Use a title
from this list with record --window.`,
	Example: `  # List windows in table format (default)
  windowlapse windows

  # List windows in JSON format
  windowlapse windows --format json

  # Show which window a title would select
  windowlapse windows --match "Krita"`,
	RunE: runWindows,
}

var (
	windowsFormat string
	windowsMatch  string
	windowsExact  bool
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
	windowsCmd.Flags().StringVarP(&windowsMatch, "match", "m", "", "only show windows matching this title")
	windowsCmd.Flags().BoolVar(&windowsExact, "exact", false, "require an exact title match")
}

func runWindows(cmd *cobra.Command, args []string) error {
	if _, _, err := loadConfig(); err != nil {
		return err
	}

	locator, err := window.NewX11Locator(logger.Component("window"))
	if err != nil {
		return fmt.Errorf("failed to connect to X11: %w", err)
	}
	defer locator.Close()

	list, err := locator.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if windowsMatch != "" {
		filtered := make([]window.Info, 0, len(list))
		for _, w := range list {
			if window.MatchTitle(w.Title, windowsMatch, windowsExact) {
				filtered = append(filtered, w)
			}
		}
		list = filtered
	}

	out := cmd.OutOrStdout()
	switch windowsFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(list)
	case "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCLASS\tPID\tSIZE\tTITLE")
		for _, info := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%s\n", info.Handle, info.Class, info.PID, info.Bounds.Width, info.Bounds.Height, info.Title)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}
