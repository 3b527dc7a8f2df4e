package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/WindowLapse/internal/api"
	"github.com/bryanchriswhite/WindowLapse/internal/capture"
	"github.com/bryanchriswhite/WindowLapse/internal/capture/pipewire"
	"github.com/bryanchriswhite/WindowLapse/internal/config"
	"github.com/bryanchriswhite/WindowLapse/internal/logger"
	"github.com/bryanchriswhite/WindowLapse/internal/output"
	"github.com/bryanchriswhite/WindowLapse/internal/overlay"
	"github.com/bryanchriswhite/WindowLapse/internal/recorder"
	"github.com/bryanchriswhite/WindowLapse/internal/session"
	"github.com/bryanchriswhite/WindowLapse/internal/video"
	"github.com/bryanchriswhite/WindowLapse/internal/window"
)

// captureFlags are per-run overrides of the capture section.
type captureFlags struct {
	window       string
	interval     float64
	outputDir    string
	baseName     string
	fps          int
	exact        bool
	noCompositor bool
	preview      bool
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.window, "window", "w", "", "title of the window to capture")
	cmd.Flags().Float64VarP(&f.interval, "interval", "i", 0, "capture interval in seconds")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "directory for recorded videos")
	cmd.Flags().StringVar(&f.baseName, "name", "", "base name of the video file")
	cmd.Flags().IntVar(&f.fps, "fps", 0, "playback frame rate of the video")
	cmd.Flags().BoolVar(&f.exact, "exact", false, "require an exact window title match")
	cmd.Flags().BoolVar(&f.noCompositor, "no-compositor", false, "always use X11 blit capture")
	cmd.Flags().BoolVar(&f.preview, "preview", false, "serve a live MJPEG preview")
}

// apply overlays flags the user actually set.
func (f *captureFlags) apply(cmd *cobra.Command, c *config.CaptureConfig) {
	flags := cmd.Flags()
	if flags.Changed("window") {
		c.WindowTitle = f.window
	}
	if flags.Changed("interval") {
		c.IntervalSeconds = f.interval
	}
	if flags.Changed("output-dir") {
		c.OutputDir = f.outputDir
	}
	if flags.Changed("name") {
		c.BaseName = f.baseName
	}
	if flags.Changed("fps") {
		c.FPS = f.fps
	}
	if flags.Changed("exact") {
		c.ExactMatch = f.exact
	}
	if flags.Changed("no-compositor") {
		c.UseCompositor = !f.noCompositor
	}
	if flags.Changed("preview") {
		c.Preview = f.preview
	}
}

// app is the wired recorder with its optional server and preview.
type app struct {
	configMgr  *config.Manager
	locator    *window.X11Locator
	preview    *output.MJPEGOutput
	dispatcher *recorder.LoopDispatcher
	rec        *recorder.Recorder
	server     *api.Server
	port       int
}

// newApp connects to X11 and builds the recorder. Capture settings are read
// from the config file at every start so edits apply to the next session.
func newApp(cmd *cobra.Command, configMgr *config.Manager, cfg *config.Config, flags *captureFlags, serve bool) (*app, error) {
	log := logger.Component("windowlapse")

	locator, err := window.NewX11Locator(logger.Component("window"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}

	a := &app{
		configMgr:  configMgr,
		locator:    locator,
		dispatcher: recorder.NewLoopDispatcher(),
		port:       cfg.ServerPort,
	}

	current := func() *config.Config {
		c := configMgr.Get()
		flags.apply(cmd, &c.Capture)
		return c
	}
	start := current()

	var compositor capture.Backend
	if start.Capture.UseCompositor {
		compositor = pipewire.NewBackend(pipewire.DefaultTokenPath(), logger.Component("pipewire"))
	}

	var preview output.Output
	var badge *overlay.TextWidget
	if start.Capture.Preview || serve {
		a.preview = output.NewMJPEGOutput(output.Config{MaxWidth: start.Capture.PreviewMaxWidth}, logger.Component("preview"))
		annotated := overlay.NewOutput(a.preview, logger.Component("overlay"))
		badge = overlay.NewTextWidget("status", 8, 8)
		annotated.AddWidget(badge)
		preview = annotated
	}

	rec, err := recorder.New(recorder.Options{
		Session: session.Options{
			Locator:    locator,
			Legacy:     capture.NewX11Source(locator.Conn(), logger.Component("x11-capture")),
			Compositor: compositor,
			Encoders: func() video.Encoder {
				return video.NewFFmpegEncoder(current().FFmpegOptions(), logger.Component("ffmpeg"))
			},
			Preview:     preview,
			Log:         logger.Component("session"),
			SettleDelay: start.SettleDelay(),
		},
		Dispatcher: a.dispatcher,
		Settings:   func() session.Config { return current().Session() },
		Log:        logger.Component("recorder"),
	})
	if err != nil {
		locator.Close()
		return nil, err
	}
	a.rec = rec

	if serve {
		a.server = api.NewServer(rec, configMgr, a.preview, logger.Component("api"))
	}

	rec.Subscribe(func(status string) {
		log.Info().Str("status", status).Msg("status")
		if badge != nil {
			badge.SetText(status)
		}
	})
	return a, nil
}

// run starts background loops and returns a function that shuts them down.
func (a *app) run(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go a.dispatcher.Run(ctx)
	go a.rec.Run(ctx, time.Second)
	a.configMgr.Watch()

	if a.preview != nil {
		if err := a.preview.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start preview: %w", err)
		}
	}

	if a.server != nil {
		log := logger.Component("api")
		go func() {
			if err := a.server.Start(a.port); err != nil {
				log.Error().Err(err).Msg("Server error")
			}
		}()
	}

	return func() {
		if a.server != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.server.Shutdown(sctx)
			scancel()
		}
		if a.preview != nil {
			a.preview.Stop()
		}
		cancel()
		a.locator.Close()
	}, nil
}
