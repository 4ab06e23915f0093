package sampler

import (
	"context"
	"sync"

	"github.com/vzahanych/digit-recognizer/internal/geometry"
)

// LayoutPersister stores the display layout across restarts
type LayoutPersister interface {
	LoadLayout(ctx context.Context) (geometry.Layout, bool, error)
	SaveLayout(ctx context.Context, layout geometry.Layout) error
}

// LayoutStore holds the display geometry last reported by the display layer.
// Until a layout is reported the source is treated as displayed unscaled.
type LayoutStore struct {
	mu           sync.RWMutex
	layout       geometry.Layout
	reported     bool
	guideEnabled bool
	persister    LayoutPersister
}

// NewLayoutStore creates a layout store. With guideEnabled false the guide
// is ignored and the whole frame is sampled.
func NewLayoutStore(guideEnabled bool) *LayoutStore {
	return &LayoutStore{guideEnabled: guideEnabled}
}

// SetPersister enables persistence of reported layouts
func (s *LayoutStore) SetPersister(p LayoutPersister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

// Restore loads a previously persisted layout, if any
func (s *LayoutStore) Restore(ctx context.Context) error {
	s.mu.RLock()
	p := s.persister
	s.mu.RUnlock()
	if p == nil {
		return nil
	}

	layout, ok, err := p.LoadLayout(ctx)
	if err != nil || !ok {
		return err
	}

	s.mu.Lock()
	s.layout = layout
	s.reported = true
	s.mu.Unlock()
	return nil
}

// Set records a layout reported by the display layer
func (s *LayoutStore) Set(ctx context.Context, layout geometry.Layout) error {
	if layout.Guide != nil {
		g := *layout.Guide
		layout.Guide = &g
	}

	s.mu.Lock()
	s.layout = layout
	s.reported = true
	p := s.persister
	s.mu.Unlock()

	if p != nil {
		return p.SaveLayout(ctx, layout)
	}
	return nil
}

// Get returns the reported layout and whether one was reported
func (s *LayoutStore) Get() (geometry.Layout, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout, s.reported
}

// GuideEnabled reports whether the guide rectangle is honoured
func (s *LayoutStore) GuideEnabled() bool {
	return s.guideEnabled
}

// Effective returns the layout to map a frame of the given intrinsic size with
func (s *LayoutStore) Effective(intrinsic geometry.Size) geometry.Layout {
	s.mu.RLock()
	layout, reported := s.layout, s.reported
	s.mu.RUnlock()

	if !reported {
		layout = geometry.Layout{Video: intrinsic.Full()}
	}
	if !s.guideEnabled {
		layout.Guide = nil
	}
	return layout
}
