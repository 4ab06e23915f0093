package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// StillDriver serves image files from a directory as virtual cameras. Each
// PNG or JPEG file is one device, replayed at a fixed frame rate.
type StillDriver struct {
	dir       string
	frameRate int
}

// NewStillDriver creates a driver over dir
func NewStillDriver(dir string, frameRate int) *StillDriver {
	if frameRate <= 0 {
		frameRate = 15
	}
	return &StillDriver{dir: dir, frameRate: frameRate}
}

// Name returns the driver name
func (d *StillDriver) Name() string {
	return "still"
}

// EnumerateDevices lists image files in the directory
func (d *StillDriver) EnumerateDevices(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformUnsupported, err)
	}

	var devices []Device
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		devices = append(devices, Device{
			ID:    e.Name(),
			Label: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Kind:  KindVideoInput,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// Acquire decodes the target image and starts replaying it
func (d *StillDriver) Acquire(ctx context.Context, target Target) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	id := target.DeviceID
	if id == "" {
		devices, err := d.EnumerateDevices(ctx)
		if err != nil {
			return nil, err
		}
		dev, ok := resolveFacing(devices, target.Facing)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, ErrNoDeviceAvailable)
		}
		id = dev.ID
	}

	f, err := os.Open(filepath.Join(d.dir, filepath.Base(id)))
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrCaptureUnavailable, id, err)
	}

	return NewImageStream(id, img, time.Second/time.Duration(d.frameRate)), nil
}

// ImageStream replays one image at a fixed interval
type ImageStream struct {
	track    *imageTrack
	img      image.Image
	interval time.Duration
	first    sync.Once
}

// NewImageStream creates a stream that yields img every interval. The first
// frame is returned immediately.
func NewImageStream(id string, img image.Image, interval time.Duration) *ImageStream {
	return &ImageStream{
		track:    &imageTrack{id: id, stopped: make(chan struct{})},
		img:      img,
		interval: interval,
	}
}

// Tracks returns the single video track
func (s *ImageStream) Tracks() []Track {
	return []Track{s.track}
}

// ReadFrame waits for the next frame tick
func (s *ImageStream) ReadFrame() (image.Image, error) {
	immediate := false
	s.first.Do(func() { immediate = true })

	if !immediate {
		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		select {
		case <-s.track.stopped:
			return nil, ErrStreamClosed
		case <-timer.C:
		}
	}

	select {
	case <-s.track.stopped:
		return nil, ErrStreamClosed
	default:
		return s.img, nil
	}
}

type imageTrack struct {
	id      string
	once    sync.Once
	stopped chan struct{}
}

func (t *imageTrack) ID() string {
	return t.id
}

func (t *imageTrack) Stop() {
	t.once.Do(func() { close(t.stopped) })
}
