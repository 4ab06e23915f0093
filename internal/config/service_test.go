package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
	"gopkg.in/yaml.v3"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func newTestConfig(tmpDir string) *Config {
	cfg := Default()
	cfg.State.DataDir = tmpDir
	return cfg
}

func TestNewService(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, newTestConfig(tmpDir))

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	if svc.Get() == nil {
		t.Fatal("Get() returned nil")
	}
	if svc.Get().State.DataDir != tmpDir {
		t.Errorf("Expected DataDir %s, got %s", tmpDir, svc.Get().State.DataDir)
	}
}

func TestService_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Sampler.Interval = 250 * time.Millisecond
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if got := svc.Get().Sampler.Interval; got != 250*time.Millisecond {
		t.Errorf("Expected interval 250ms, got %v", got)
	}
}

func TestService_ReloadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg.Camera.Driver = "kinect"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload to fail for an unknown driver")
	}
	if svc.Get().Camera.Driver != "mediadevices" {
		t.Errorf("Previous configuration should be kept, got driver %s", svc.Get().Camera.Driver)
	}
}

func TestService_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := newTestConfig(tmpDir)
	createTestConfig(t, configPath, cfg)

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	watcherCalled := false
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		watcherCalled = true
		if oldConfig == nil || newConfig == nil {
			t.Error("Watcher should receive both old and new config")
		}
		return nil
	})

	cfg.Log.Level = "debug"
	createTestConfig(t, configPath, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !watcherCalled {
		t.Error("Watcher should have been called")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	createTestConfig(t, configPath, newTestConfig(tmpDir))

	t.Setenv("RECOGNIZER_PREDICT_URL", "http://classifier:9000/api/predict")
	t.Setenv("RECOGNIZER_CAMERA_DRIVER", "v4l2")
	t.Setenv("RECOGNIZER_SAMPLE_INTERVAL", "500ms")
	t.Setenv("LOG_LEVEL", "debug")

	svc, err := NewService(configPath, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	got := svc.Get()
	if got.Inference.Endpoint != "http://classifier:9000/api/predict" {
		t.Errorf("Expected endpoint from env, got %s", got.Inference.Endpoint)
	}
	if got.Camera.Driver != "v4l2" {
		t.Errorf("Expected driver 'v4l2' from env, got %s", got.Camera.Driver)
	}
	if got.Sampler.Interval != 500*time.Millisecond {
		t.Errorf("Expected interval 500ms from env, got %v", got.Sampler.Interval)
	}
	if got.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug' from env, got %s", got.Log.Level)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("camera:\n  driver: still\n  still_dir: /tmp/frames\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Sampler.Interval != time.Second {
		t.Errorf("Expected default interval 1s, got %v", cfg.Sampler.Interval)
	}
	if cfg.Inference.Endpoint != "http://localhost:8000/api/predict" {
		t.Errorf("Unexpected default endpoint %s", cfg.Inference.Endpoint)
	}
	if !cfg.Guide.Enabled {
		t.Error("Guide should be enabled by default")
	}
	if cfg.Camera.Driver != "still" {
		t.Errorf("Expected driver 'still', got %s", cfg.Camera.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestParse_GuideDisabled(t *testing.T) {
	cfg, err := Parse([]byte("guide:\n  enabled: false\nsampler:\n  interval: 2s\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Guide.Enabled {
		t.Error("Guide should be disabled")
	}
	if cfg.Sampler.Interval != 2*time.Second {
		t.Errorf("Expected interval 2s, got %v", cfg.Sampler.Interval)
	}
}

func TestParse_RejectsRasterSize(t *testing.T) {
	_, err := Parse([]byte("sampler:\n  raster_size: 64\n"))
	if err == nil {
		t.Fatal("Expected raster_size to be rejected")
	}
	if !strings.Contains(err.Error(), "raster_size") {
		t.Errorf("Expected error to name raster_size, got: %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Sampler.Interval != time.Second {
		t.Errorf("Expected default interval, got %v", cfg.Sampler.Interval)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Camera.Driver = "still"
	cfg.Inference.Endpoint = "not a url"
	cfg.Sampler.Interval = -time.Second
	cfg.Health.Port = cfg.Web.Port

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{"camera.still_dir", "inference.endpoint", "sampler.interval", "health.port must differ"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected error to mention %q, got:\n%s", want, msg)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing configuration file")
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue    string
		defaultVal  bool
		expected    bool
		description string
	}{
		{"", false, false, "empty env with false default"},
		{"", true, true, "empty env with true default"},
		{"true", false, true, "true string"},
		{"1", false, true, "1 string"},
		{"on", false, true, "on string"},
		{"false", true, false, "false string"},
		{"off", true, false, "off string"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			result := GetEnvBool("TEST_BOOL", tt.defaultVal)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "")
	if got := GetEnvDuration("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Errorf("Expected 5s, got %v", got)
	}

	t.Setenv("TEST_DURATION", "10s")
	if got := GetEnvDuration("TEST_DURATION", 5*time.Second); got != 10*time.Second {
		t.Errorf("Expected 10s, got %v", got)
	}

	t.Setenv("TEST_DURATION", "invalid")
	if got := GetEnvDuration("TEST_DURATION", 5*time.Second); got != 5*time.Second {
		t.Errorf("Expected 5s for invalid value, got %v", got)
	}
}
