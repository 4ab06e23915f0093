// Package sampler periodically crops the live camera frame to the guide
// region and submits it for digit prediction.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/inference"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// TickOutcome describes what a single sampling tick did
type TickOutcome string

const (
	TickSkippedBusy     TickOutcome = "skipped-busy"
	TickSkippedNotLive  TickOutcome = "skipped-not-live"
	TickSkippedGeometry TickOutcome = "skipped-geometry"
	TickSubmitted       TickOutcome = "submitted"
)

// Source provides the latest frame of the live capture session
type Source interface {
	Snapshot() (camera.Snapshot, error)
}

// Predictor classifies a rasterized frame
type Predictor interface {
	Submit(ctx context.Context, img image.Image) (*presenter.Prediction, error)
}

// Config contains sampler configuration
type Config struct {
	Interval time.Duration
}

// Stats counts tick outcomes and request results
type Stats struct {
	Ticks       uint64      `json:"ticks"`
	Submitted   uint64      `json:"submitted"`
	Succeeded   uint64      `json:"succeeded"`
	Failed      uint64      `json:"failed"`
	Cancelled   uint64      `json:"cancelled"`
	LastOutcome TickOutcome `json:"last_outcome,omitempty"`
}

// Sampler is the frame sampling service. At most one prediction request is
// in flight; ticks that find one pending are skipped.
type Sampler struct {
	*service.ServiceBase
	source    Source
	predictor Predictor
	presenter *presenter.Presenter
	layout    *LayoutStore

	interval time.Duration

	busy     atomic.Bool
	inflight sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks     atomic.Uint64
	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	last      atomic.Value // TickOutcome
}

// New creates a sampler
func New(
	source Source,
	predictor Predictor,
	pres *presenter.Presenter,
	layout *LayoutStore,
	config Config,
	log *logger.Logger,
) *Sampler {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if layout == nil {
		layout = NewLayoutStore(true)
	}

	return &Sampler{
		ServiceBase: service.NewServiceBase("sampler", log),
		source:      source,
		predictor:   predictor,
		presenter:   pres,
		layout:      layout,
		interval:    config.Interval,
	}
}

// Start begins periodic sampling
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStarting)

	if err := s.layout.Restore(ctx); err != nil {
		s.LogWarn("Failed to restore display layout", "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Frame sampler started",
		"interval", s.interval,
		"raster_size", RasterSize,
		"guide_enabled", s.layout.GuideEnabled(),
	)
	return nil
}

// Stop stops sampling and cancels the in-flight request
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	cancel()
	<-done
	s.Wait()
	s.GetStatus().SetStatus(service.StatusStopped)

	s.LogInfo("Frame sampler stopped")
	return nil
}

func (s *Sampler) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick samples the current frame once. The prediction request runs in the
// background; its context is cancelled when ctx is cancelled or the session
// that produced the frame is released.
func (s *Sampler) Tick(ctx context.Context) TickOutcome {
	outcome := s.tick(ctx)
	s.ticks.Add(1)
	s.last.Store(outcome)
	return outcome
}

func (s *Sampler) tick(ctx context.Context) TickOutcome {
	if !s.busy.CompareAndSwap(false, true) {
		return TickSkippedBusy
	}
	handedOff := false
	defer func() {
		if !handedOff {
			s.busy.Store(false)
		}
	}()

	snap, err := s.source.Snapshot()
	if err != nil {
		return TickSkippedNotLive
	}

	region, err := geometry.MapLayout(snap.Size, s.layout.Effective(snap.Size))
	if err != nil {
		if !errors.Is(err, geometry.ErrGeometryNotReady) {
			s.LogDebug("Skipping frame", "reason", err.Error())
		}
		return TickSkippedGeometry
	}

	src := sourceRect(region.Pixels(), snap.Frame.Bounds())
	if src.Empty() {
		s.LogDebug("Skipping frame", "reason", "guide outside frame", "region", region.String())
		return TickSkippedGeometry
	}

	raster := Rasterize(snap.Frame, src)

	reqCtx, cancel := context.WithCancel(ctx)
	stop := func() bool { return false }
	if snap.Context != nil {
		stop = context.AfterFunc(snap.Context, cancel)
	}

	handedOff = true
	s.submitted.Add(1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.busy.Store(false)
		defer cancel()
		defer stop()

		s.submit(reqCtx, snap.SessionID, raster)
	}()

	return TickSubmitted
}

func (s *Sampler) submit(ctx context.Context, sessionID string, raster image.Image) {
	pred, err := s.predictor.Submit(ctx, raster)
	if ctx.Err() != nil {
		s.cancelled.Add(1)
		s.LogDebug("Discarding stale prediction request", "session_id", sessionID)
		return
	}
	if err != nil {
		s.failed.Add(1)
		s.LogWarn("Prediction failed", "error", err, "session_id", sessionID)
		s.PublishEvent(service.EventTypeInferenceFailed, failureData(err, sessionID))
		return
	}

	s.succeeded.Add(1)
	view := s.presenter.Update(*pred)
	s.PublishEvent(service.EventTypeInferenceResult, map[string]interface{}{
		"digit":           *view.Digit,
		"confidence":      *view.Confidence,
		"label":           view.Label,
		"confidence_text": view.ConfidenceText,
		"tier":            string(view.Tier),
		"session_id":      sessionID,
	})
}

func failureData(err error, sessionID string) map[string]interface{} {
	data := map[string]interface{}{
		"error":      err.Error(),
		"kind":       "network",
		"session_id": sessionID,
	}

	var apiErr *inference.APIError
	switch {
	case errors.As(err, &apiErr):
		data["kind"] = "rejected"
		data["status"] = apiErr.StatusCode
		if apiErr.IsNoDigit() {
			data["kind"] = "no_digit"
		}
	case errors.Is(err, inference.ErrDecode):
		data["kind"] = "decode"
	}
	return data
}

// Wait blocks until the in-flight request, if any, has finished
func (s *Sampler) Wait() {
	s.inflight.Wait()
}

// Busy reports whether a request is in flight
func (s *Sampler) Busy() bool {
	return s.busy.Load()
}

// Layout returns the layout store
func (s *Sampler) Layout() *LayoutStore {
	return s.layout
}

// UpdateLayout records a layout reported by the display layer
func (s *Sampler) UpdateLayout(ctx context.Context, layout geometry.Layout) error {
	if g := layout.Guide; g != nil && (g.W < 0 || g.H < 0 || math.IsNaN(g.W) || math.IsNaN(g.H)) {
		return fmt.Errorf("%w: %s", geometry.ErrInvalidRegion, g)
	}
	if err := s.layout.Set(ctx, layout); err != nil {
		s.LogWarn("Failed to persist display layout", "error", err)
	}

	data := map[string]interface{}{
		"video": layout.Video.String(),
	}
	if layout.Guide != nil {
		data["guide"] = layout.Guide.String()
	}
	s.PublishEvent(service.EventTypeLayoutChanged, data)
	return nil
}

// Stats returns the sampler counters
func (s *Sampler) Stats() Stats {
	st := Stats{
		Ticks:     s.ticks.Load(),
		Submitted: s.submitted.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
	}
	if last, ok := s.last.Load().(TickOutcome); ok {
		st.LastOutcome = last
	}
	return st
}
