package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Guide     GuideConfig     `yaml:"guide"`
	Inference InferenceConfig `yaml:"inference"`
	Web       WebConfig       `yaml:"web"`
	Health    HealthConfig    `yaml:"health"`
	State     StateConfig     `yaml:"state"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// CameraConfig selects the capture driver and the initial capture target
type CameraConfig struct {
	Driver     string `yaml:"driver"`      // mediadevices, v4l2 or still
	Selection  string `yaml:"selection"`   // device or facing
	FacingMode string `yaml:"facing_mode"` // front or rear
	DeviceID   string `yaml:"device_id"`   // Optional: exact device to open on start
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FrameRate  int    `yaml:"frame_rate"`
	DevPath    string `yaml:"dev_path"`  // v4l2 driver only
	StillDir   string `yaml:"still_dir"` // still driver only
	AutoStart  bool   `yaml:"auto_start"`
}

// SamplerConfig controls the sampling cadence. The raster size is fixed by
// the classifier and is not configurable.
type SamplerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// GuideConfig controls guide-region cropping. When disabled the whole frame is sampled.
type GuideConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InferenceConfig contains the remote classifier configuration
type InferenceConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthConfig contains health check server configuration
type HealthConfig struct {
	Port int `yaml:"port"`
}

// StateConfig contains preference persistence configuration
type StateConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{
		Guide: GuideConfig{Enabled: true},
		Web:   WebConfig{Enabled: true},
	}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/digit-recognizer/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Camera.Driver == "" {
		c.Camera.Driver = "mediadevices"
	}
	if c.Camera.Selection == "" {
		c.Camera.Selection = "device"
	}
	if c.Camera.FacingMode == "" {
		c.Camera.FacingMode = "rear"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FrameRate == 0 {
		c.Camera.FrameRate = 15
	}
	if c.Camera.DevPath == "" {
		c.Camera.DevPath = "/dev"
	}

	if c.Sampler.Interval == 0 {
		c.Sampler.Interval = time.Second
	}

	if c.Inference.Endpoint == "" {
		c.Inference.Endpoint = "http://localhost:8000/api/predict"
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 10 * time.Second
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8090
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8091
	}

	if c.State.DataDir == "" {
		c.State.DataDir = "./data"
	}
}

// DatabasePath returns the path of the preferences database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.State.DataDir, "db", "recognizer.db")
}
