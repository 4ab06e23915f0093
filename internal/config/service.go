package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	// Camera settings
	if val := os.Getenv("RECOGNIZER_CAMERA_DRIVER"); val != "" {
		cfg.Camera.Driver = val
	}
	if val := os.Getenv("RECOGNIZER_CAMERA_DEVICE_ID"); val != "" {
		cfg.Camera.DeviceID = val
	}
	if val := os.Getenv("RECOGNIZER_CAMERA_FACING_MODE"); val != "" {
		cfg.Camera.FacingMode = strings.ToLower(val)
	}
	if val := os.Getenv("RECOGNIZER_CAMERA_STILL_DIR"); val != "" {
		cfg.Camera.StillDir = val
	}
	cfg.Camera.AutoStart = GetEnvBool("RECOGNIZER_CAMERA_AUTO_START", cfg.Camera.AutoStart)

	// Sampling and inference
	cfg.Sampler.Interval = GetEnvDuration("RECOGNIZER_SAMPLE_INTERVAL", cfg.Sampler.Interval)
	cfg.Guide.Enabled = GetEnvBool("RECOGNIZER_GUIDE_ENABLED", cfg.Guide.Enabled)
	if val := os.Getenv("RECOGNIZER_PREDICT_URL"); val != "" {
		cfg.Inference.Endpoint = val
	}
	cfg.Inference.Timeout = GetEnvDuration("RECOGNIZER_PREDICT_TIMEOUT", cfg.Inference.Timeout)

	// Servers
	cfg.Web.Port = GetEnvInt("RECOGNIZER_WEB_PORT", cfg.Web.Port)
	cfg.Health.Port = GetEnvInt("RECOGNIZER_HEALTH_PORT", cfg.Health.Port)
	if val := os.Getenv("RECOGNIZER_DATA_DIR"); val != "" {
		cfg.State.DataDir = val
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}
