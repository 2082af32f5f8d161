// Package config loads the vcam-run configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	vcam "github.com/e7canasta/orion-care-sensor/modules/virtual-camera"
)

// Defaults for the camera section
const (
	DefaultWidth          = 1280
	DefaultHeight         = 960
	DefaultFPSNumerator   = 30
	DefaultFPSDenominator = 1
)

// Driver names accepted in the driver field
const (
	DriverGStreamer = "gstreamer"
	DriverSynthetic = "synthetic"
)

// Config represents the complete vcam-run configuration
type Config struct {
	Name           string              `yaml:"name"`
	Driver         string              `yaml:"driver"` // gstreamer, synthetic
	Camera         vcam.PipelineConfig `yaml:"camera"`
	StatsIntervalS int                 `yaml:"stats_interval_s"` // bridge stats log period (default: 10)
	Log            LogConfig           `yaml:"log"`
	Capture        CaptureConfig       `yaml:"capture"`
	MQTT           MQTTConfig          `yaml:"mqtt"`
	Monitor        MonitorConfig       `yaml:"monitor"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// CaptureConfig controls saving served frames to disk
type CaptureConfig struct {
	OutputDir string `yaml:"output_dir"` // empty disables capture
	Format    string `yaml:"format"`     // png, jpeg
	EveryN    int    `yaml:"every_n"`    // save one of every N samples
	MaxFrames int    `yaml:"max_frames"` // 0 = unlimited
	Quality   int    `yaml:"quality"`    // JPEG quality 1-100
}

// MQTTConfig contains MQTT broker settings (empty broker disables export)
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Topic          string `yaml:"topic"`
	QoS            byte   `yaml:"qos"`
	PublishSamples bool   `yaml:"publish_samples"`
}

// MonitorConfig contains the websocket monitor settings (empty addr disables it)
type MonitorConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate fills defaults and checks the configuration
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	switch cfg.Driver {
	case DriverGStreamer, DriverSynthetic:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverGStreamer, DriverSynthetic, cfg.Driver)
	}

	if err := cfg.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	switch cfg.Capture.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("capture.format must be png or jpeg, got %q", cfg.Capture.Format)
	}
	if cfg.Capture.Quality < 1 || cfg.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be in 1..100, got %d", cfg.Capture.Quality)
	}
	if cfg.Capture.MaxFrames < 0 {
		return fmt.Errorf("capture.max_frames must be >= 0")
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.Monitor.Path != "" && !strings.HasPrefix(cfg.Monitor.Path, "/") {
		return fmt.Errorf("monitor.path must start with /")
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "vcam"
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverGStreamer
	}
	cfg.Driver = strings.ToLower(cfg.Driver)

	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = DefaultWidth
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = DefaultHeight
	}
	if cfg.Camera.FPSNumerator == 0 {
		cfg.Camera.FPSNumerator = DefaultFPSNumerator
	}
	if cfg.Camera.FPSDenominator == 0 {
		cfg.Camera.FPSDenominator = DefaultFPSDenominator
	}
	if cfg.StatsIntervalS <= 0 {
		cfg.StatsIntervalS = 10
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Capture.Format == "" {
		cfg.Capture.Format = "png"
	}
	if cfg.Capture.Format == "jpg" {
		cfg.Capture.Format = "jpeg"
	}
	if cfg.Capture.EveryN <= 0 {
		cfg.Capture.EveryN = 30
	}
	if cfg.Capture.Quality == 0 {
		cfg.Capture.Quality = 90
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.Name
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = fmt.Sprintf("vcam/events/%s", cfg.Name)
	}

	if cfg.Monitor.Path == "" {
		cfg.Monitor.Path = "/ws"
	}
}
