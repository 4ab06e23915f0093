package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// Enumerator lists video input devices once and caches the result.
// Devices plugged in later are not picked up.
type Enumerator struct {
	driver Driver
	logger *logger.Logger

	mu      sync.Mutex
	done    bool
	devices []Device
	err     error
}

// NewEnumerator creates an enumerator over driver
func NewEnumerator(driver Driver, log *logger.Logger) *Enumerator {
	return &Enumerator{
		driver: driver,
		logger: log,
	}
}

// ListDevices returns the video inputs reported by the driver. It returns
// ErrPlatformUnsupported when the driver cannot enumerate, and an empty
// list with ErrNoDeviceAvailable when nothing was found.
func (e *Enumerator) ListDevices(ctx context.Context) ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return e.copyDevices(), e.err
	}

	all, err := e.driver.EnumerateDevices(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Not cached: a cancelled caller should not disable the camera for good
			return nil, fmt.Errorf("device enumeration cancelled: %w", ctx.Err())
		}
		if !errors.Is(err, ErrPlatformUnsupported) {
			err = fmt.Errorf("%w: %v", ErrPlatformUnsupported, err)
		}
		e.done = true
		e.err = err
		e.logger.Warn("Camera enumeration unsupported", "driver", e.driver.Name(), "error", err)
		return nil, err
	}

	devices := make([]Device, 0, len(all))
	for _, d := range all {
		if d.Kind != KindVideoInput {
			continue
		}
		devices = append(devices, d)
	}

	e.done = true
	e.devices = devices
	if len(devices) == 0 {
		e.err = ErrNoDeviceAvailable
		e.logger.Warn("No cameras found", "driver", e.driver.Name())
	} else {
		e.logger.Info("Cameras enumerated", "driver", e.driver.Name(), "count", len(devices))
		for _, d := range devices {
			e.logger.Debug("Camera", "id", d.ID, "label", d.Label)
		}
	}

	return e.copyDevices(), e.err
}

// Devices returns the cached devices without enumerating
func (e *Enumerator) Devices() []Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyDevices()
}

func (e *Enumerator) copyDevices() []Device {
	out := make([]Device, len(e.devices))
	copy(out, e.devices)
	return out
}

// discreteIDs reports whether every device can be addressed by identifier
func discreteIDs(devices []Device) bool {
	if len(devices) == 0 {
		return false
	}
	for _, d := range devices {
		if d.ID == "" {
			return false
		}
	}
	return true
}
