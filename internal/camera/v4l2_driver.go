package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// V4L2Driver discovers /dev/video* capture nodes and reads frames through
// an ffmpeg process that decodes to raw RGB.
type V4L2Driver struct {
	logger       *logger.Logger
	videoDevPath string
	sysfsPath    string
	ffmpegPath   string
	width        int
	height       int
	frameRate    int
}

// NewV4L2Driver creates a V4L2 driver
func NewV4L2Driver(videoDevPath string, width, height, frameRate int, log *logger.Logger) *V4L2Driver {
	if videoDevPath == "" {
		videoDevPath = "/dev"
	}
	return &V4L2Driver{
		logger:       log,
		videoDevPath: videoDevPath,
		sysfsPath:    "/sys/class/video4linux",
		ffmpegPath:   "ffmpeg",
		width:        width,
		height:       height,
		frameRate:    frameRate,
	}
}

// Name returns the driver name
func (d *V4L2Driver) Name() string {
	return "v4l2"
}

// EnumerateDevices lists video capture nodes
func (d *V4L2Driver) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if _, err := os.Stat(d.videoDevPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformUnsupported, err)
	}

	paths, err := d.findVideoDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(paths))
	for _, path := range paths {
		info := d.probeDevice(ctx, path)
		if !info.capture {
			d.logger.Debug("Skipping non-capture video node", "device", path)
			continue
		}
		devices = append(devices, Device{
			ID:    path,
			Label: info.label,
			Kind:  KindVideoInput,
		})
	}

	return devices, nil
}

// findVideoDevices finds character devices named video* in the dev path
func (d *V4L2Driver) findVideoDevices() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.videoDevPath, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	var devices []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			devices = append(devices, match)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return videoIndex(devices[i]) < videoIndex(devices[j])
	})
	return devices, nil
}

// videoIndex extracts N from /dev/videoN for natural ordering
func videoIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}

type v4l2DeviceInfo struct {
	label   string
	capture bool
}

// probeDevice reads the card name with v4l2-ctl, falling back to sysfs
func (d *V4L2Driver) probeDevice(ctx context.Context, devicePath string) v4l2DeviceInfo {
	info := v4l2DeviceInfo{
		label:   filepath.Base(devicePath),
		capture: true,
	}

	if _, err := exec.LookPath("v4l2-ctl"); err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		output, err := exec.CommandContext(probeCtx, "v4l2-ctl", "--device", devicePath, "--info").Output()
		if err == nil {
			return parseV4L2Info(string(output), info)
		}
	}

	if name, err := os.ReadFile(filepath.Join(d.sysfsPath, filepath.Base(devicePath), "name")); err == nil {
		if label := strings.TrimSpace(string(name)); label != "" {
			info.label = label
		}
	}

	return info
}

// parseV4L2Info parses `v4l2-ctl --info` output. Only nodes whose device
// caps include Video Capture are usable; UVC cameras also expose a
// metadata node that must be skipped.
func parseV4L2Info(output string, info v4l2DeviceInfo) v4l2DeviceInfo {
	inDeviceCaps := false
	sawDeviceCaps := false
	deviceCapture := false

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Card type"):
			parts := strings.SplitN(trimmed, ":", 2)
			if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
				info.label = strings.TrimSpace(parts[1])
			}
			inDeviceCaps = false
		case strings.HasPrefix(trimmed, "Device Caps"):
			inDeviceCaps = true
			sawDeviceCaps = true
		case strings.Contains(trimmed, ":"):
			inDeviceCaps = false
		case inDeviceCaps && trimmed == "Video Capture":
			deviceCapture = true
		}
	}

	if sawDeviceCaps {
		info.capture = deviceCapture
	}
	return info
}

// Acquire opens the device and starts an ffmpeg decoder on it
func (d *V4L2Driver) Acquire(ctx context.Context, target Target) (Stream, error) {
	devicePath := target.DeviceID
	if devicePath == "" {
		devices, err := d.EnumerateDevices(ctx)
		if err != nil {
			return nil, err
		}
		dev, ok := resolveFacing(devices, target.Facing)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, ErrNoDeviceAvailable)
		}
		devicePath = dev.ID
	}

	// Probe access first so permission problems are reported as such
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
		case errors.Is(err, syscall.EBUSY):
			return nil, fmt.Errorf("%w: device busy: %v", ErrCaptureUnavailable, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
	}
	f.Close()

	if _, err := exec.LookPath(d.ffmpegPath); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %v", ErrPlatformUnsupported, err)
	}

	args := d.buildArgs(devicePath)
	cmd := exec.Command(d.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %v", ErrCaptureUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrCaptureUnavailable, err)
	}

	d.logger.Debug("ffmpeg capture started", "device", devicePath, "pid", cmd.Process.Pid)

	stream := &rawVideoStream{
		stdout: stdout,
		width:  d.width,
		height: d.height,
		buf:    make([]byte, d.width*d.height*3),
	}
	stream.track = &processTrack{id: devicePath, cmd: cmd, logger: d.logger}

	if err := ctx.Err(); err != nil {
		stream.track.Stop()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	return stream, nil
}

// buildArgs builds ffmpeg arguments emitting fixed-size rgb24 frames
func (d *V4L2Driver) buildArgs(devicePath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(d.frameRate),
		"-video_size", fmt.Sprintf("%dx%d", d.width, d.height),
		"-i", devicePath,
		"-vf", fmt.Sprintf("scale=%d:%d", d.width, d.height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	}
}

type rawVideoStream struct {
	stdout io.Reader
	track  *processTrack
	width  int
	height int
	buf    []byte
}

func (s *rawVideoStream) Tracks() []Track {
	return []Track{s.track}
}

// ReadFrame reads one rgb24 frame from ffmpeg
func (s *rawVideoStream) ReadFrame() (image.Image, error) {
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		if s.track.isStopped() {
			return nil, ErrStreamClosed
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return rgb24ToRGBA(s.buf, s.width, s.height), nil
}

// rgb24ToRGBA converts packed RGB bytes to an opaque RGBA image
func rgb24ToRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

type processTrack struct {
	id     string
	cmd    *exec.Cmd
	logger *logger.Logger

	mu      sync.Mutex
	stopped bool
}

func (t *processTrack) ID() string {
	return t.id
}

// Stop kills ffmpeg, which closes the pipe and unblocks ReadFrame
func (t *processTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if err := t.cmd.Wait(); err != nil {
		t.logger.Debug("ffmpeg exited", "device", t.id, "error", err)
	}
}

func (t *processTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
