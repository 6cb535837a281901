package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/stillframe/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	ServerPort  int               `json:"server_port" yaml:"server_port"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	LogPretty   bool              `json:"log_pretty" yaml:"log_pretty"`
	Source      SourceConfig      `json:"source" yaml:"source"`
	Capture     CaptureConfig     `json:"capture" yaml:"capture"`
	Orientation OrientationConfig `json:"orientation" yaml:"orientation"`
	Preview     PreviewConfig     `json:"preview" yaml:"preview"`
}

// SourceConfig selects and configures the frame producer
type SourceConfig struct {
	// Kind is one of "pattern", "gstreamer", "x11" or "portal"
	Kind     string `json:"kind" yaml:"kind"`
	Width    int    `json:"width" yaml:"width"`
	Height   int    `json:"height" yaml:"height"`
	FPS      int    `json:"fps" yaml:"fps"`
	Rotation int    `json:"rotation" yaml:"rotation"`
	// Pipeline is the gst-launch source element chain placed before the I420 caps filter
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
}

// CaptureConfig configures the still capture pipeline
type CaptureConfig struct {
	OutputDir       string        `json:"output_dir" yaml:"output_dir"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	EncodeQuality   int           `json:"encode_quality" yaml:"encode_quality"`
	RetainLastFrame bool          `json:"retain_last_frame" yaml:"retain_last_frame"`
}

// OrientationConfig configures the device orientation tracker
type OrientationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Fixed pins the sensor to a single raw reading when set (e.g. a rig mounted sideways)
	Fixed *int `json:"fixed,omitempty" yaml:"fixed,omitempty"`
}

// PreviewConfig configures the MJPEG live preview
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	FPS     int  `json:"fps" yaml:"fps"`
	Width   int  `json:"width" yaml:"width"`
	Quality int  `json:"quality" yaml:"quality"`
	Label   bool `json:"label" yaml:"label"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/stillframe/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "stillframe", "config.yaml"), nil
}

// NewManager loads configFile (or the default path when empty), creating it
// with defaults if it does not exist yet
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Source.Kind).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Source: SourceConfig{
			Kind:   "pattern",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Capture: CaptureConfig{
			OutputDir:       filepath.Join(os.TempDir(), "stillframe"),
			Timeout:         10 * time.Second,
			EncodeQuality:   90,
			RetainLastFrame: true,
		},
		Orientation: OrientationConfig{
			Enabled: true,
		},
		Preview: PreviewConfig{
			Enabled: true,
			FPS:     5,
			Width:   640,
			Quality: 75,
		},
	}
}

// load reads the configuration from disk, filling zero values with defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Validate checks values the rest of the program relies on
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "pattern", "gstreamer", "x11", "portal":
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		return fmt.Errorf("invalid source size %dx%d", c.Source.Width, c.Source.Height)
	}
	if c.Source.FPS <= 0 {
		return fmt.Errorf("invalid source fps %d", c.Source.FPS)
	}
	switch c.Source.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("invalid source rotation %d", c.Source.Rotation)
	}
	if c.Capture.EncodeQuality < 1 || c.Capture.EncodeQuality > 100 {
		return fmt.Errorf("encode quality %d out of range 1-100", c.Capture.EncodeQuality)
	}
	if c.Capture.Timeout < 0 {
		return fmt.Errorf("negative capture timeout")
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	return &cfg
}

// Override applies in-memory changes (e.g. from command line flags) that are not written to disk
func (m *Manager) Override(apply func(cfg *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.config
	apply(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	m.config = &next
	return nil
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// Set changes a single setting by its dotted YAML key and saves the result
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()

	intValue := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "server_port":
		cfg.ServerPort, err = intValue()
	case "log_level":
		cfg.LogLevel = value
	case "source.kind":
		cfg.Source.Kind = value
	case "source.width":
		cfg.Source.Width, err = intValue()
	case "source.height":
		cfg.Source.Height, err = intValue()
	case "source.fps":
		cfg.Source.FPS, err = intValue()
	case "source.rotation":
		cfg.Source.Rotation, err = intValue()
	case "source.pipeline":
		cfg.Source.Pipeline = value
	case "capture.output_dir":
		cfg.Capture.OutputDir = value
	case "capture.timeout":
		cfg.Capture.Timeout, err = time.ParseDuration(value)
	case "capture.encode_quality":
		cfg.Capture.EncodeQuality, err = intValue()
	case "capture.retain_last_frame":
		cfg.Capture.RetainLastFrame, err = strconv.ParseBool(value)
	case "orientation.enabled":
		cfg.Orientation.Enabled, err = strconv.ParseBool(value)
	case "preview.enabled":
		cfg.Preview.Enabled, err = strconv.ParseBool(value)
	case "preview.fps":
		cfg.Preview.FPS, err = intValue()
	case "preview.width":
		cfg.Preview.Width, err = intValue()
	case "preview.label":
		cfg.Preview.Label, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	if err != nil {
		return err
	}
	return m.Update(cfg)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
