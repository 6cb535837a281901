package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "stillframe",
		Short: "stillframe - grab still images from a live video stream",
		Long: `stillframe keeps the most recent frame of a live video stream and turns
the next frame after a request into an upright JPEG.

Features:
  • Frames from a test pattern, a GStreamer pipeline, X11 or a Wayland screencast
  • Capture on demand over HTTP or from the command line
  • Orientation-aware rotation of saved stills
  • Live MJPEG preview
  • Persistent configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/stillframe/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable console logs")
	rootCmd.PersistentFlags().String("source", "", "frame source (pattern, gstreamer, x11, portal)")
	rootCmd.PersistentFlags().String("output-dir", "", "directory for captured images")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("source.kind", rootCmd.PersistentFlags().Lookup("source"))
	viper.BindPFlag("capture.output_dir", rootCmd.PersistentFlags().Lookup("output-dir"))

	viper.SetEnvPrefix("STILLFRAME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = viper.GetString("config")
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
