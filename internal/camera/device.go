// Package camera enumerates local capture devices and owns the single
// active capture stream.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrPlatformUnsupported means the configured driver cannot enumerate or
	// open capture devices on this host. Camera features are disabled.
	ErrPlatformUnsupported = errors.New("camera capture is not supported on this platform")

	// ErrNoDeviceAvailable means enumeration succeeded but found no video input
	ErrNoDeviceAvailable = errors.New("no cameras found")

	// ErrCaptureDenied means the device refused access (permissions)
	ErrCaptureDenied = errors.New("camera access denied")

	// ErrCaptureUnavailable means the device is busy, removed or failed to open
	ErrCaptureUnavailable = errors.New("camera unavailable")

	// ErrNotLive is returned by Snapshot when no stream is playing
	ErrNotLive = errors.New("camera is not live")

	// ErrStreamClosed is returned by Stream.ReadFrame once its tracks are stopped
	ErrStreamClosed = errors.New("stream closed")
)

// KindVideoInput is the only device kind this package reports
const KindVideoInput = "videoinput"

// Device is an enumerated capture device
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// FacingMode is the camera orientation hint used when devices cannot be
// addressed by identifier.
type FacingMode string

const (
	FacingFront FacingMode = "front"
	FacingRear  FacingMode = "rear"
)

// Toggle returns the opposite facing mode
func (f FacingMode) Toggle() FacingMode {
	if f == FacingFront {
		return FacingRear
	}
	return FacingFront
}

// ParseFacingMode accepts front/user and rear/back/environment
func ParseFacingMode(s string) (FacingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user":
		return FacingFront, nil
	case "rear", "back", "environment":
		return FacingRear, nil
	default:
		return "", fmt.Errorf("unknown facing mode: %q", s)
	}
}

// Target identifies what to open: an exact device, or a facing mode hint.
type Target struct {
	DeviceID string     `json:"device_id,omitempty"`
	Facing   FacingMode `json:"facing,omitempty"`
}

// DeviceTarget targets an exact device
func DeviceTarget(id string) Target {
	return Target{DeviceID: id}
}

// FacingTarget targets a facing mode
func FacingTarget(mode FacingMode) Target {
	return Target{Facing: mode}
}

// IsZero reports whether no target has been chosen
func (t Target) IsZero() bool {
	return t.DeviceID == "" && t.Facing == ""
}

// String implements fmt.Stringer
func (t Target) String() string {
	if t.DeviceID != "" {
		return "device:" + t.DeviceID
	}
	if t.Facing != "" {
		return "facing:" + string(t.Facing)
	}
	return "none"
}

// Driver is a platform media API
type Driver interface {
	Name() string
	// EnumerateDevices lists capture devices. Drivers return
	// ErrPlatformUnsupported when the host has no capture capability.
	EnumerateDevices(ctx context.Context) ([]Device, error)
	// Acquire opens a stream for target. Failures wrap ErrCaptureDenied or
	// ErrCaptureUnavailable.
	Acquire(ctx context.Context, target Target) (Stream, error)
}

// Stream is an acquired media stream
type Stream interface {
	Tracks() []Track
	// ReadFrame blocks until the next frame is decoded. The returned image is
	// owned by the caller. After the tracks are stopped it returns ErrStreamClosed.
	ReadFrame() (image.Image, error)
}

// Track is one track of a stream. Stop releases the underlying device.
type Track interface {
	ID() string
	Stop()
}

// resolveFacing picks the device best matching a facing mode from labels.
// Like an "ideal" constraint it falls back to the first device.
func resolveFacing(devices []Device, mode FacingMode) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}

	keywords := map[FacingMode][]string{
		FacingFront: {"front", "user", "facetime", "integrated", "internal"},
		FacingRear:  {"back", "rear", "environment", "world"},
	}

	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, kw := range keywords[mode] {
			if strings.Contains(label, kw) {
				return d, true
			}
		}
	}

	// Laptops usually enumerate the built-in (front) camera first
	if mode == FacingRear && len(devices) > 1 {
		return devices[len(devices)-1], true
	}
	return devices[0], true
}

// findDevice returns the device with the given id
func findDevice(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
