package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

const (
	jpegQuality       = 80
	streamInterval    = 100 * time.Millisecond
	selectRequestBody = 4 << 10
	mjpegBoundary     = "frame"
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus returns the current result together with the camera state
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	resp := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"prediction":     s.presenter.Current(),
	}

	if s.session != nil {
		info := s.session.Info()
		resp["camera"] = gin.H{
			"state":      info.State,
			"target":     info.Target,
			"session_id": info.SessionID,
			"last_error": info.LastError,
			"frames":     info.Frames,
		}
		resp["device_count"] = len(info.Devices)
		resp["can_switch"] = info.CanSwitch
	}
	if s.sampler != nil {
		resp["sampler"] = s.sampler.Stats()
	}

	c.JSON(http.StatusOK, resp)
}

// handleListDevices enumerates the video inputs
func (s *Server) handleListDevices(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}

	devices, err := s.session.Devices(c.Request.Context())
	if err != nil {
		c.JSON(cameraErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	info := s.session.Info()
	c.JSON(http.StatusOK, gin.H{
		"devices":    devices,
		"count":      len(devices),
		"selected":   info.Target,
		"can_switch": info.CanSwitch,
	})
}

func (s *Server) handleStartCamera(c *gin.Context) {
	s.cameraAction(c, func(ctx context.Context) error {
		return s.session.StartCapture(ctx)
	})
}

func (s *Server) handleSwitchCamera(c *gin.Context) {
	s.cameraAction(c, func(ctx context.Context) error {
		return s.session.Switch(ctx)
	})
}

// selectRequest picks an enumerated device by identifier
type selectRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (s *Server) handleSelectCamera(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}

	var req selectRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, selectRequestBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	s.cameraAction(c, func(ctx context.Context) error {
		return s.session.Select(ctx, req.DeviceID)
	})
}

func (s *Server) handleStopCamera(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}
	s.session.StopCapture()
	c.JSON(http.StatusOK, s.session.Info())
}

// cameraAction runs a session operation and answers with the resulting state
func (s *Server) cameraAction(c *gin.Context, action func(ctx context.Context) error) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}

	if err := action(c.Request.Context()); err != nil {
		info := s.session.Info()
		c.JSON(cameraErrorStatus(err), gin.H{
			"error": err.Error(),
			"state": info.State,
		})
		return
	}

	c.JSON(http.StatusOK, s.session.Info())
}

// cameraErrorStatus maps capture errors to HTTP status codes
func cameraErrorStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrCaptureDenied):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrPlatformUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, camera.ErrNoDeviceAvailable), errors.Is(err, camera.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrNotLive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleGetLayout returns the display layout the sampler maps guides with
func (s *Server) handleGetLayout(c *gin.Context) {
	if s.sampler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sampler not available"})
		return
	}

	store := s.sampler.Layout()
	layout, reported := store.Get()
	c.JSON(http.StatusOK, gin.H{
		"layout":        layout,
		"reported":      reported,
		"guide_enabled": store.GuideEnabled(),
	})
}

// handleUpdateLayout records the display geometry reported by the page
func (s *Server) handleUpdateLayout(c *gin.Context) {
	if s.sampler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sampler not available"})
		return
	}

	var layout geometry.Layout
	if err := c.ShouldBindJSON(&layout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid layout: " + err.Error()})
		return
	}

	if err := s.sampler.UpdateLayout(c.Request.Context(), layout); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, geometry.ErrInvalidRegion) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"layout": layout})
}

// handleSingleFrame handles single frame JPEG endpoint
func (s *Server) handleSingleFrame(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}

	frame, _, err := s.encodeFrame()
	if err != nil {
		c.JSON(frameErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleMJPEGStream handles MJPEG streaming endpoint
func (s *Server) handleMJPEGStream(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not available"})
		return
	}
	if _, err := s.session.Snapshot(); err != nil {
		c.JSON(frameErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastAt time.Time
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-ticker.C:
		}

		frame, at, err := s.encodeFrame()
		switch {
		case errors.Is(err, errNoFrame), errors.Is(err, camera.ErrNotLive):
			// Keep the connection across camera switches
			return true
		case err != nil:
			return false
		case !at.After(lastAt):
			return true
		}
		lastAt = at

		fmt.Fprintf(w, "--%s\r\n", mjpegBoundary)
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		w.Write(frame)
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
		return true
	})
}

var errNoFrame = errors.New("no frame decoded yet")

// encodeFrame returns the latest live frame as JPEG
func (s *Server) encodeFrame() ([]byte, time.Time, error) {
	snap, err := s.session.Snapshot()
	if err != nil {
		return nil, time.Time{}, err
	}
	if snap.Frame == nil {
		return nil, time.Time{}, errNoFrame
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, snap.Frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), snap.FrameAt, nil
}

func frameErrorStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrNotLive):
		return http.StatusConflict
	case errors.Is(err, errNoFrame):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
