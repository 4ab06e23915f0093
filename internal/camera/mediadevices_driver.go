package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the platform camera driver
	"github.com/pion/mediadevices/pkg/prop"
	"golang.org/x/image/draw"
)

// MediaDevicesDriver captures through pion/mediadevices, which mirrors the
// browser getUserMedia model: enumerate, then request a stream with
// constraints on device id and resolution.
type MediaDevicesDriver struct {
	width     int
	height    int
	frameRate int
}

// NewMediaDevicesDriver creates a driver requesting the given resolution
func NewMediaDevicesDriver(width, height, frameRate int) *MediaDevicesDriver {
	return &MediaDevicesDriver{width: width, height: height, frameRate: frameRate}
}

// Name returns the driver name
func (d *MediaDevicesDriver) Name() string {
	return "mediadevices"
}

// EnumerateDevices lists registered video inputs
func (d *MediaDevicesDriver) EnumerateDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		devices = append(devices, Device{
			ID:    info.DeviceID,
			Label: info.Label,
			Kind:  KindVideoInput,
		})
	}
	return devices, nil
}

type userMediaResult struct {
	stream mediadevices.MediaStream
	err    error
}

// Acquire requests a stream for the exact device, or for the device whose
// label best matches the facing mode.
func (d *MediaDevicesDriver) Acquire(ctx context.Context, target Target) (Stream, error) {
	deviceID := target.DeviceID
	if deviceID == "" {
		devices, _ := d.EnumerateDevices(ctx)
		dev, ok := resolveFacing(devices, target.Facing)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, ErrNoDeviceAvailable)
		}
		deviceID = dev.ID
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
			if d.width > 0 && d.height > 0 {
				c.Width = prop.Int(d.width)
				c.Height = prop.Int(d.height)
			}
			if d.frameRate > 0 {
				c.FrameRate = prop.Float(float32(d.frameRate))
			}
		},
	}

	// GetUserMedia does not take a context; run it aside so a cancelled
	// caller returns promptly, and release whatever it opens late.
	done := make(chan userMediaResult, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(constraints)
		done <- userMediaResult{stream: stream, err: err}
	}()

	var res userMediaResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.err == nil {
				for _, t := range late.stream.GetTracks() {
					t.Close()
				}
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, ctx.Err())
	}

	if res.err != nil {
		return nil, classifyMediaError(res.err)
	}

	videoTracks := res.stream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, fmt.Errorf("%w: no video track", ErrCaptureUnavailable)
	}

	videoTrack, ok := videoTracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range res.stream.GetTracks() {
			t.Close()
		}
		return nil, fmt.Errorf("%w: unexpected track type %T", ErrCaptureUnavailable, videoTracks[0])
	}

	stream := &mediaStream{reader: videoTrack.NewReader(false)}
	for _, t := range res.stream.GetTracks() {
		stream.tracks = append(stream.tracks, &mediaTrack{track: t, closed: &stream.closed})
	}

	return stream, nil
}

func classifyMediaError(err error) error {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, os.ErrPermission) || strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted") {
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
}

type frameReader interface {
	Read() (image.Image, func(), error)
}

type mediaStream struct {
	reader frameReader
	tracks []Track
	closed atomic.Bool
}

func (s *mediaStream) Tracks() []Track {
	return s.tracks
}

// ReadFrame copies the next frame out of the driver's buffer
func (s *mediaStream) ReadFrame() (image.Image, error) {
	img, release, err := s.reader.Read()
	if err != nil {
		if s.closed.Load() {
			return nil, ErrStreamClosed
		}
		return nil, err
	}
	defer release()

	if s.closed.Load() {
		return nil, ErrStreamClosed
	}

	return cloneImage(img), nil
}

type mediaTrack struct {
	track  mediadevices.Track
	closed *atomic.Bool
	once   sync.Once
}

func (t *mediaTrack) ID() string {
	return t.track.ID()
}

func (t *mediaTrack) Stop() {
	t.once.Do(func() {
		t.closed.Store(true)
		_ = t.track.Close()
	})
}

// cloneImage copies img into a new RGBA anchored at the origin
func cloneImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
