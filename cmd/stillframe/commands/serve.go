package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/stillframe/internal/api"
	"github.com/bryanchriswhite/stillframe/internal/logger"
	"github.com/bryanchriswhite/stillframe/internal/preview"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stillframe server",
	Long: `Start the frame source and the HTTP API.

Stills are taken with POST /api/capture, which saves the next frame after
the request. A live MJPEG preview is served at /stream.`,
	Example: `  # Start server on default port (8080) with the test pattern
  stillframe serve

  # Read frames from a webcam through GStreamer
  stillframe serve --source gstreamer

  # Start with specific config file
  stillframe serve --config /path/to/config.yaml

  # Start with debug logging
  stillframe serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}
	defer a.stop()

	deps := api.Deps{
		Capturer:    a.capturer,
		Orientation: a.tracker,
		Config:      configMgr,
	}
	if a.sensor != nil {
		deps.Sensor = a.sensor
	}

	if cfg.Preview.Enabled {
		stream := preview.NewMJPEG(preview.Config{
			FPS:     cfg.Preview.FPS,
			Width:   cfg.Preview.Width,
			Quality: cfg.Preview.Quality,
			Label:   cfg.Preview.Label,
		})
		if err := stream.Start(ctx, a.capturer); err != nil {
			return err
		}
		defer stream.Stop()
		deps.Preview = stream
	}

	server := api.NewServer(deps)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Str("source", a.source.Name()).
		Str("output_dir", a.store.Dir()).
		Int("port", cfg.ServerPort).
		Msg("stillframe is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
