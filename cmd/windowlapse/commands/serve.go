package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WindowLapse control server",
	Long: `Start the HTTP control API without recording. Capture is started, paused
and stopped through the API or the web page served at /.`,
	Example: `  # Start server on default port (8090)
  windowlapse serve

  # Start server on custom port
  windowlapse serve --port 9090

  # Start a capture through the API
  curl -X POST localhost:8090/api/capture/start -d '{"window_title":"Krita"}'`,
	RunE: runServe,
}

var serveFlags captureFlags

func init() {
	rootCmd.AddCommand(serveCmd)
	serveFlags.register(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd, configMgr, cfg, &serveFlags, true)
	if err != nil {
		return err
	}
	shutdown, err := a.run(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "WindowLapse is running!")
	fmt.Fprintf(out, "   - Web UI: http://localhost:%d\n", a.port)
	fmt.Fprintf(out, "   - API: http://localhost:%d/api\n", a.port)
	fmt.Fprintln(out, "   - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(out, "Shutting down gracefully...")
	return reportStop(cmd, a.rec.Stop())
}
