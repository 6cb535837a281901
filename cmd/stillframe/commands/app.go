package commands

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/stillframe/internal/capture"
	"github.com/bryanchriswhite/stillframe/internal/config"
	"github.com/bryanchriswhite/stillframe/internal/encode"
	"github.com/bryanchriswhite/stillframe/internal/logger"
	"github.com/bryanchriswhite/stillframe/internal/orientation"
	"github.com/bryanchriswhite/stillframe/internal/rotate"
	"github.com/bryanchriswhite/stillframe/internal/source"
	"github.com/bryanchriswhite/stillframe/internal/storage"
)

// loadConfig reads the config file, applies command line overrides and
// initializes logging from the result
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	err = configMgr.Override(func(cfg *config.Config) {
		if port := viper.GetInt("server_port"); viper.IsSet("server_port") && port > 0 {
			cfg.ServerPort = port
		}
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
		if viper.GetBool("log_pretty") {
			cfg.LogPretty = true
		}
		if kind := viper.GetString("source.kind"); kind != "" {
			cfg.Source.Kind = kind
		}
		if dir := viper.GetString("capture.output_dir"); dir != "" {
			cfg.Capture.OutputDir = dir
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid command line override: %w", err)
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// app wires the capture pipeline together
type app struct {
	store    *storage.Store
	tracker  *orientation.Tracker
	sensor   *orientation.ChannelSource
	capturer *capture.Capturer
	source   source.Source
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.New(cfg.Capture.OutputDir)
	if err != nil {
		return nil, err
	}

	a := &app{store: store}

	var sensor orientation.Source = orientation.Disabled{}
	switch {
	case !cfg.Orientation.Enabled:
	case cfg.Orientation.Fixed != nil:
		sensor = orientation.Fixed(*cfg.Orientation.Fixed)
	default:
		// readings are pushed by API clients
		a.sensor = orientation.NewChannelSource(16)
		sensor = a.sensor
	}
	a.tracker = orientation.New(sensor)
	if cfg.Orientation.Enabled && cfg.Orientation.Fixed != nil {
		// seed the value so a capture of the very first frame sees it
		a.tracker.Update(*cfg.Orientation.Fixed)
	}

	a.capturer, err = capture.New(capture.Options{
		Encoder:       encode.JPEG{},
		Corrector:     rotate.New(a.tracker),
		Store:         store,
		EncodeQuality: cfg.Capture.EncodeQuality,
		Timeout:       cfg.Capture.Timeout,
		DropUnarmed:   !cfg.Capture.RetainLastFrame,
	})
	if err != nil {
		return nil, err
	}

	a.source, err = source.New(cfg.Source)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// start begins orientation tracking and frame production
func (a *app) start(ctx context.Context) error {
	if err := a.tracker.Start(ctx); err != nil {
		return err
	}
	if err := a.source.Start(ctx, a.capturer); err != nil {
		a.tracker.Stop()
		return fmt.Errorf("failed to start %s source: %w", a.source.Name(), err)
	}
	return nil
}

// stop shuts components down producer first
func (a *app) stop() {
	log := logger.WithComponent("app")
	if err := a.source.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop source")
	}
	a.capturer.Close()
	a.tracker.Stop()
}
