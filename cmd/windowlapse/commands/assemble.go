package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowLapse/internal/assemble"
	"github.com/bryanchriswhite/WindowLapse/internal/logger"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble DIR",
	Short: "Build a video from a folder of numbered images",
	Long: `Encode every image in DIR, ordered by the number after the last underscore
in the file name (frame_1.png, frame_2.png, ...), into a video lasting
--duration seconds. The frame rate is the image count divided by the
duration. Images that differ in size from the first one are scaled.

Supported formats: png, jpeg, bmp, webp, tiff.`,
	Example: `  # Make a 30 second video from ./shots, written to ./shots/output.mp4
  windowlapse assemble ./shots --duration 30

  # Choose the output file
  windowlapse assemble ./shots --duration 30 --output ~/Videos/shots.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runAssemble,
}

var (
	assembleDuration float64
	assembleOutput   string
)

func init() {
	rootCmd.AddCommand(assembleCmd)

	assembleCmd.Flags().Float64VarP(&assembleDuration, "duration", "d", 10, "video duration in seconds")
	assembleCmd.Flags().StringVarP(&assembleOutput, "output", "o", "", "output file (default DIR/output.mp4)")
}

func runAssemble(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	last := -1
	res, err := assemble.Assemble(ctx, assemble.Options{
		Dir:         args[0],
		Duration:    time.Duration(assembleDuration * float64(time.Second)),
		Output:      assembleOutput,
		Encoder:     video.NewFFmpegEncoder(cfg.FFmpegOptions(), logger.Component("ffmpeg")),
		SettleDelay: cfg.SettleDelay(),
		Progress: func(p assemble.Progress) {
			pct := int(p.Percent())
			if pct != last {
				last = pct
				fmt.Fprintf(out, "\rGenerating video: %3d%%", pct)
			}
		},
		Log: logger.Component("assemble"),
	})
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("video generation cancelled")
		}
		return fmt.Errorf("failed to create video: %w", err)
	}

	fmt.Fprintf(out, "Video saved to %s (%d images at %.2f fps, %d bytes)\n",
		res.File.Path, res.Images, res.FPS, res.File.Size)
	return nil
}
