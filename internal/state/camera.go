package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
)

// CameraState is a capture device remembered from enumeration
type CameraState struct {
	ID       string     `json:"id"`
	Label    string     `json:"label"`
	Kind     string     `json:"kind"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// SaveDevices records enumerated devices and marks them as seen now
func (m *Manager) SaveDevices(ctx context.Context, devices []camera.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO cameras (id, label, kind, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			kind = excluded.kind,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	for _, d := range devices {
		if _, err := tx.ExecContext(ctx, query, d.ID, d.Label, d.Kind, now, now); err != nil {
			return fmt.Errorf("failed to save camera %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID. A missing camera returns nil.
func (m *Manager) GetCamera(ctx context.Context, id string) (*CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT id, label, kind, last_seen FROM cameras WHERE id = ?`

	var cam CameraState
	var lastSeen sql.NullTime
	err := m.db.GetDB().QueryRowContext(ctx, query, id).Scan(&cam.ID, &cam.Label, &cam.Kind, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	if lastSeen.Valid {
		cam.LastSeen = &lastSeen.Time
	}

	return &cam, nil
}

// ListCameras lists every camera ever enumerated, most recently seen first
func (m *Manager) ListCameras(ctx context.Context) ([]CameraState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `SELECT id, label, kind, last_seen FROM cameras ORDER BY last_seen DESC, label`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []CameraState
	for rows.Next() {
		var cam CameraState
		var lastSeen sql.NullTime
		if err := rows.Scan(&cam.ID, &cam.Label, &cam.Kind, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			cam.LastSeen = &lastSeen.Time
		}
		cameras = append(cameras, cam)
	}

	return cameras, rows.Err()
}
