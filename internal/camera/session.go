package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// State is the capture session state
type State string

const (
	StateNotStarted State = "not_started"
	StateOpening    State = "opening"
	StateLive       State = "live"
)

// ErrUnknownDevice is returned when selecting a device that was not enumerated
var ErrUnknownDevice = errors.New("unknown camera device")

// SessionConfig selects how the session picks its targets
type SessionConfig struct {
	Selection  string // "device" or "facing"
	FacingMode FacingMode
	DeviceID   string
	AutoStart  bool
}

// TargetStore remembers the last opened target across restarts
type TargetStore interface {
	LoadTarget(ctx context.Context) (Target, bool, error)
	SaveTarget(ctx context.Context, target Target) error
}

// Snapshot is a consistent view of a live session
type Snapshot struct {
	SessionID string
	Target    Target
	Frame     image.Image
	FrameAt   time.Time
	Size      geometry.Size
	// Context is cancelled when the stream that produced Frame is released
	Context context.Context
}

// Info describes the session for display
type Info struct {
	State     State    `json:"state"`
	Target    Target   `json:"target"`
	SessionID string   `json:"session_id,omitempty"`
	Devices   []Device `json:"devices"`
	CanSwitch bool     `json:"can_switch"`
	LastError string   `json:"last_error,omitempty"`
	Frames    uint64   `json:"frames"`
}

// Session owns at most one live capture stream. Opens are serialized and
// the previous stream is always released before a new one is acquired.
type Session struct {
	*service.ServiceBase
	driver     Driver
	enumerator *Enumerator
	surface    *Surface
	cfg        SessionConfig
	store      TargetStore

	opMu sync.Mutex // serializes open/switch/close

	mu            sync.RWMutex
	state         State
	target        Target
	stream        Stream
	sessionID     string
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	baseCtx       context.Context
	lastErr       error
}

// NewSession creates a capture session over driver
func NewSession(driver Driver, cfg SessionConfig, log *logger.Logger) *Session {
	if cfg.Selection == "" {
		cfg.Selection = "device"
	}
	if cfg.FacingMode == "" {
		cfg.FacingMode = FacingRear
	}

	return &Session{
		ServiceBase: service.NewServiceBase("camera", log),
		driver:      driver,
		enumerator:  NewEnumerator(driver, log),
		surface:     NewSurface(log),
		cfg:         cfg,
		state:       StateNotStarted,
		baseCtx:     context.Background(),
	}
}

// SetTargetStore enables remembering the last target
func (s *Session) SetTargetStore(store TargetStore) {
	s.store = store
}

// Start enumerates devices and optionally opens the default camera.
// Enumeration problems are reported but never fail the service.
func (s *Session) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.LogInfo("Starting camera session", "driver", s.driver.Name())

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	devices, err := s.enumerator.ListDevices(ctx)
	switch {
	case errors.Is(err, ErrPlatformUnsupported):
		s.PublishEvent(service.EventTypeCameraUnsupported, map[string]interface{}{
			"driver": s.driver.Name(),
			"error":  err.Error(),
		})
	case errors.Is(err, ErrNoDeviceAvailable):
		s.PublishEvent(service.EventTypeCameraNone, map[string]interface{}{
			"driver": s.driver.Name(),
			"error":  err.Error(),
		})
	case err != nil:
		s.LogError("Camera enumeration failed", err)
	default:
		s.PublishEvent(service.EventTypeCameraEnumerated, map[string]interface{}{
			"driver":  s.driver.Name(),
			"count":   len(devices),
			"devices": devices,
		})
	}

	s.GetStatus().SetStatus(service.StatusRunning)

	if s.cfg.AutoStart && err == nil {
		if err := s.StartCapture(ctx); err != nil {
			s.LogError("Failed to auto-start camera", err)
		}
	}

	return nil
}

// Stop releases the active stream
func (s *Session) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.StopCapture()
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Camera session stopped")
	return nil
}

// StartCapture opens the remembered or default target. It is a no-op while live.
func (s *Session) StartCapture(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateLive {
		return nil
	}

	target, err := s.initialTarget(ctx)
	if err != nil {
		s.reportError(err)
		return err
	}

	return s.open(ctx, target)
}

// Switch advances to the next enumerated device, wrapping around, or
// toggles the facing mode when devices have no usable identifiers.
func (s *Session) Switch(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	devices, err := s.enumerator.ListDevices(ctx)
	if err != nil {
		s.reportError(err)
		return err
	}

	s.mu.RLock()
	current := s.target
	s.mu.RUnlock()

	return s.open(ctx, s.nextTarget(devices, current))
}

// Select opens an enumerated device by identifier
func (s *Session) Select(ctx context.Context, deviceID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	devices, err := s.enumerator.ListDevices(ctx)
	if err != nil {
		s.reportError(err)
		return err
	}
	if _, ok := findDevice(devices, deviceID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	return s.open(ctx, DeviceTarget(deviceID))
}

// Open releases the current stream and acquires target
func (s *Session) Open(ctx context.Context, target Target) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.open(ctx, target)
}

// StopCapture releases the active stream and returns to StateNotStarted
func (s *Session) StopCapture() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.release()
	s.setState(StateNotStarted)
}

// Close tears the session down
func (s *Session) Close() error {
	s.StopCapture()
	return nil
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the latest frame of the live stream. Size is zero until
// the first frame has been decoded.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateLive {
		return Snapshot{}, ErrNotLive
	}

	frame, at := s.surface.Frame()
	return Snapshot{
		SessionID: s.sessionID,
		Target:    s.target,
		Frame:     frame,
		FrameAt:   at,
		Size:      geometry.SizeOf(frame),
		Context:   s.sessionCtx,
	}, nil
}

// Info describes the session
func (s *Session) Info() Info {
	devices := s.enumerator.Devices()

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		State:     s.state,
		Target:    s.target,
		SessionID: s.sessionID,
		Devices:   devices,
		CanSwitch: len(devices) > 1,
		Frames:    s.surface.FrameCount(),
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// Devices enumerates (once) and returns the video inputs
func (s *Session) Devices(ctx context.Context) ([]Device, error) {
	return s.enumerator.ListDevices(ctx)
}

// open must be called with opMu held
func (s *Session) open(ctx context.Context, target Target) error {
	s.release()

	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
	s.setState(StateOpening)

	s.LogInfo("Opening camera", "target", target.String())

	stream, err := s.driver.Acquire(ctx, target)
	if err == nil && len(stream.Tracks()) == 0 {
		err = fmt.Errorf("%w: stream has no video track", ErrCaptureUnavailable)
	}
	if err != nil {
		if !errors.Is(err, ErrCaptureDenied) && !errors.Is(err, ErrCaptureUnavailable) && !errors.Is(err, ErrPlatformUnsupported) {
			err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		s.setState(StateNotStarted)
		s.reportError(err)
		return err
	}

	s.surface.Attach(stream)

	s.mu.Lock()
	sessionCtx, cancel := context.WithCancel(s.baseCtx)
	s.stream = stream
	s.sessionID = uuid.NewString()
	s.sessionCtx = sessionCtx
	s.cancelSession = cancel
	s.lastErr = nil
	s.mu.Unlock()

	s.setState(StateLive)

	if s.store != nil {
		if err := s.store.SaveTarget(ctx, target); err != nil {
			s.LogWarn("Failed to remember camera target", "error", err)
		}
	}

	return nil
}

// release stops every track of the current stream exactly once
func (s *Session) release() {
	s.mu.Lock()
	stream := s.stream
	cancel := s.cancelSession
	id := s.sessionID
	s.stream = nil
	s.cancelSession = nil
	s.sessionID = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream == nil {
		return
	}

	for _, track := range stream.Tracks() {
		track.Stop()
	}
	s.surface.Detach()

	s.LogDebug("Camera stream released", "session_id", id)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	from := s.state
	s.state = state
	target := s.target
	id := s.sessionID
	s.mu.Unlock()

	if from == state {
		return
	}

	s.LogDebug("Camera state changed", "from", from, "to", state, "target", target.String())
	s.PublishEvent(service.EventTypeCameraState, map[string]interface{}{
		"from":       string(from),
		"to":         string(state),
		"target":     target.String(),
		"session_id": id,
	})
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.LogError("Camera error", err)
	s.PublishEvent(service.EventTypeCameraError, map[string]interface{}{
		"kind":  errorKind(err),
		"error": err.Error(),
	})
}

// useFacing reports whether targets are facing modes rather than devices
func (s *Session) useFacing(devices []Device) bool {
	return s.cfg.Selection == "facing" || !discreteIDs(devices)
}

func (s *Session) initialTarget(ctx context.Context) (Target, error) {
	devices, err := s.enumerator.ListDevices(ctx)
	if err != nil {
		return Target{}, err
	}

	s.mu.RLock()
	last := s.target
	s.mu.RUnlock()
	if !last.IsZero() {
		return last, nil
	}

	var stored Target
	if s.store != nil {
		t, ok, err := s.store.LoadTarget(ctx)
		if err != nil {
			s.LogWarn("Failed to load remembered camera target", "error", err)
		} else if ok {
			stored = t
		}
	}

	if s.useFacing(devices) {
		if stored.Facing != "" {
			return FacingTarget(stored.Facing), nil
		}
		return FacingTarget(s.cfg.FacingMode), nil
	}

	if s.cfg.DeviceID != "" {
		if _, ok := findDevice(devices, s.cfg.DeviceID); ok {
			return DeviceTarget(s.cfg.DeviceID), nil
		}
		s.LogWarn("Configured camera not found, using default", "device_id", s.cfg.DeviceID)
	}

	if stored.DeviceID != "" {
		if _, ok := findDevice(devices, stored.DeviceID); ok {
			return stored, nil
		}
	}

	return DeviceTarget(devices[0].ID), nil
}

func (s *Session) nextTarget(devices []Device, current Target) Target {
	if s.useFacing(devices) {
		mode := current.Facing
		if mode == "" {
			mode = s.cfg.FacingMode
		}
		return FacingTarget(mode.Toggle())
	}

	idx := 0
	for i, d := range devices {
		if d.ID == current.DeviceID {
			idx = i
			break
		}
	}
	return DeviceTarget(devices[(idx+1)%len(devices)].ID)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPlatformUnsupported):
		return "unsupported"
	case errors.Is(err, ErrNoDeviceAvailable):
		return "no_device"
	case errors.Is(err, ErrCaptureDenied):
		return "denied"
	default:
		return "unavailable"
	}
}
