package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/geometry"
)

const (
	keyCameraTarget  = "camera.last_target"
	keyDisplayLayout = "display.layout"
)

// SaveTarget remembers the last opened camera target
func (m *Manager) SaveTarget(ctx context.Context, target camera.Target) error {
	data, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal camera target: %w", err)
	}
	return m.SaveSystemState(ctx, keyCameraTarget, string(data))
}

// LoadTarget returns the last opened camera target, if any
func (m *Manager) LoadTarget(ctx context.Context) (camera.Target, bool, error) {
	value, err := m.GetSystemState(ctx, keyCameraTarget)
	if err != nil || value == "" {
		return camera.Target{}, false, err
	}

	var target camera.Target
	if err := json.Unmarshal([]byte(value), &target); err != nil {
		return camera.Target{}, false, fmt.Errorf("failed to parse camera target: %w", err)
	}
	return target, !target.IsZero(), nil
}

// SaveLayout remembers the display layout
func (m *Manager) SaveLayout(ctx context.Context, layout geometry.Layout) error {
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}
	return m.SaveSystemState(ctx, keyDisplayLayout, string(data))
}

// LoadLayout returns the remembered display layout, if any
func (m *Manager) LoadLayout(ctx context.Context) (geometry.Layout, bool, error) {
	value, err := m.GetSystemState(ctx, keyDisplayLayout)
	if err != nil || value == "" {
		return geometry.Layout{}, false, err
	}

	var layout geometry.Layout
	if err := json.Unmarshal([]byte(value), &layout); err != nil {
		return geometry.Layout{}, false, fmt.Errorf("failed to parse layout: %w", err)
	}
	return layout, true, nil
}
