package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Camera
	switch c.Camera.Driver {
	case "mediadevices", "v4l2":
	case "still":
		if c.Camera.StillDir == "" {
			errors = append(errors, "camera.still_dir is required when camera.driver is still")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid camera.driver: %s (must be: mediadevices, v4l2 or still)", c.Camera.Driver))
	}

	if c.Camera.Selection != "device" && c.Camera.Selection != "facing" {
		errors = append(errors, fmt.Sprintf("invalid camera.selection: %s (must be: device or facing)", c.Camera.Selection))
	}

	if c.Camera.FacingMode != "front" && c.Camera.FacingMode != "rear" {
		errors = append(errors, fmt.Sprintf("invalid camera.facing_mode: %s (must be: front or rear)", c.Camera.FacingMode))
	}

	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errors = append(errors, fmt.Sprintf("camera.width and camera.height must be > 0, got: %dx%d", c.Camera.Width, c.Camera.Height))
	}

	if c.Camera.FrameRate <= 0 {
		errors = append(errors, fmt.Sprintf("camera.frame_rate must be > 0, got: %d", c.Camera.FrameRate))
	}

	// Sampler
	if c.Sampler.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("sampler.interval must be > 0, got: %v", c.Sampler.Interval))
	}

	// Inference
	if c.Inference.Endpoint == "" {
		errors = append(errors, "inference.endpoint is required")
	} else if u, err := url.Parse(c.Inference.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("inference.endpoint must be an absolute URL, got: %s", c.Inference.Endpoint))
	}

	if c.Inference.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("inference.timeout must be > 0, got: %v", c.Inference.Timeout))
	}

	// Servers
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", c.Health.Port))
	}

	if c.Web.Enabled && c.Web.Port == c.Health.Port {
		errors = append(errors, fmt.Sprintf("web.port and health.port must differ, both are: %d", c.Web.Port))
	}

	if c.State.DataDir == "" {
		errors = append(errors, "state.data_dir is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
