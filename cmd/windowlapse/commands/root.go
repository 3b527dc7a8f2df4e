package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/WindowLapse/internal/config"
	"github.com/bryanchriswhite/WindowLapse/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "windowlapse",
		Short: "WindowLapse - change-only timelapse recorder for a single window",
		Long: `WindowLapse captures one application window at a fixed interval and
encodes only the frames that changed into an MP4 timelapse.

Features:
  • Capture background or obscured windows via X11 Composite
  • PipeWire screencast capture with automatic fallback
  • Pause and resume into the same video
  • Output verification after every recording
  • REST and websocket control API with live preview
  • Assemble a folder of numbered images into a video`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/windowlapse/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "API server port (default is 8090)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file, applies global flag overrides and
// initializes logging from the result.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}
	if viper.IsSet("log_pretty") {
		cfg.LogPretty = viper.GetBool("log_pretty")
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}
