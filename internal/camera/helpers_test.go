package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// fakeDriver hands out image streams and records every track it created
type fakeDriver struct {
	mu        sync.Mutex
	devices   []Device
	enumErr   error
	failNext  error
	acquired  []Target
	streams   []*ImageStream
	stopCount map[string]int
}

func newFakeDriver(ids ...string) *fakeDriver {
	d := &fakeDriver{stopCount: make(map[string]int)}
	for _, id := range ids {
		d.devices = append(d.devices, Device{ID: id, Label: "Camera " + id, Kind: KindVideoInput})
	}
	return d
}

func (d *fakeDriver) Name() string {
	return "fake"
}

func (d *fakeDriver) EnumerateDevices(ctx context.Context) ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	return append([]Device(nil), d.devices...), nil
}

func (d *fakeDriver) Acquire(ctx context.Context, target Target) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.acquired = append(d.acquired, target)
	if err := d.failNext; err != nil {
		d.failNext = nil
		return nil, err
	}

	id := target.DeviceID
	if id == "" {
		id = string(target.Facing)
	}
	stream := NewImageStream(id, solidImage(64, 48, color.Gray{Y: 128}), 5*time.Millisecond)
	d.streams = append(d.streams, stream)
	return &countingStream{ImageStream: stream, driver: d}, nil
}

func (d *fakeDriver) stops(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCount[id]
}

func (d *fakeDriver) lastTarget() Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.acquired) == 0 {
		return Target{}
	}
	return d.acquired[len(d.acquired)-1]
}

// countingStream wraps tracks so Stop calls are counted
type countingStream struct {
	*ImageStream
	driver *fakeDriver
}

func (s *countingStream) Tracks() []Track {
	tracks := s.ImageStream.Tracks()
	out := make([]Track, len(tracks))
	for i, t := range tracks {
		out[i] = &countingTrack{Track: t, driver: s.driver}
	}
	return out
}

type countingTrack struct {
	Track
	driver *fakeDriver
}

func (t *countingTrack) Stop() {
	t.driver.mu.Lock()
	t.driver.stopCount[t.ID()]++
	t.driver.mu.Unlock()
	t.Track.Stop()
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func setupTestSession(t *testing.T, driver Driver, cfg SessionConfig) (*Session, *service.EventBus) {
	t.Helper()

	sess := NewSession(driver, cfg, logger.NewNopLogger())
	bus := service.NewEventBus(100)
	sess.SetEventBus(bus)

	t.Cleanup(func() {
		sess.StopCapture()
		bus.Close()
	})

	return sess, bus
}

// waitForFrame waits until the surface has decoded a frame
func waitForFrame(t *testing.T, sess *Session) Snapshot {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := sess.Snapshot()
		if err == nil && snap.Frame != nil {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("No frame decoded within timeout")
	return Snapshot{}
}
