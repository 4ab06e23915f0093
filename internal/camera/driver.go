package camera

import (
	"fmt"

	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// NewDriver builds the capture driver named in the camera configuration
func NewDriver(cfg config.CameraConfig, log *logger.Logger) (Driver, error) {
	switch cfg.Driver {
	case "mediadevices", "":
		return NewMediaDevicesDriver(cfg.Width, cfg.Height, cfg.FrameRate), nil
	case "v4l2":
		return NewV4L2Driver(cfg.DevPath, cfg.Width, cfg.Height, cfg.FrameRate, log), nil
	case "still":
		return NewStillDriver(cfg.StillDir, cfg.FrameRate), nil
	default:
		return nil, fmt.Errorf("unknown camera driver: %s", cfg.Driver)
	}
}

// SessionConfigFrom converts the camera configuration into session options
func SessionConfigFrom(cfg config.CameraConfig) SessionConfig {
	facing, err := ParseFacingMode(cfg.FacingMode)
	if err != nil {
		facing = FacingRear
	}
	return SessionConfig{
		Selection:  cfg.Selection,
		FacingMode: facing,
		DeviceID:   cfg.DeviceID,
		AutoStart:  cfg.AutoStart,
	}
}
