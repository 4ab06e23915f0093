package state

import (
	"context"
	"testing"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

func TestRecorder(t *testing.T) {
	mgr := setupTestManager(t)
	bus := service.NewEventBus(10)
	defer bus.Close()

	rec := NewRecorder(mgr, logger.NewNopLogger())
	rec.SetEventBus(bus)

	// Published before Start; the subscription already exists
	bus.Publish(service.Event{
		Type: service.EventTypeCameraEnumerated,
		Data: map[string]interface{}{
			"count":   1,
			"devices": []camera.Device{{ID: "cam0", Label: "Webcam", Kind: camera.KindVideoInput}},
		},
	})

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var cam *CameraState
	for time.Now().Before(deadline) {
		cam, _ = mgr.GetCamera(context.Background(), "cam0")
		if cam != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if cam == nil || cam.Label != "Webcam" {
		t.Errorf("Expected recorded camera, got %+v", cam)
	}
}

func TestRecorder_DoesNotStorePredictions(t *testing.T) {
	mgr := setupTestManager(t)
	bus := service.NewEventBus(10)
	defer bus.Close()

	rec := NewRecorder(mgr, logger.NewNopLogger())
	rec.SetEventBus(bus)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	bus.Publish(service.Event{
		Type: service.EventTypeInferenceResult,
		Data: map[string]interface{}{"digit": 7, "confidence": 0.83, "tier": "high"},
	})
	time.Sleep(20 * time.Millisecond)

	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var tables int
	err := mgr.GetDB().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT IN ('system_state', 'cameras')`,
	).Scan(&tables)
	if err != nil {
		t.Fatalf("Schema query failed: %v", err)
	}
	if tables != 0 {
		t.Errorf("Expected only preference and camera tables, found %d others", tables)
	}

	recovered, err := mgr.RecoverState(context.Background())
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if len(recovered.SystemState) != 0 || recovered.Cameras != 0 {
		t.Errorf("Expected nothing persisted from a prediction, got %+v", recovered)
	}
}

func TestRecorder_RequiresEventBus(t *testing.T) {
	rec := NewRecorder(setupTestManager(t), logger.NewNopLogger())
	if err := rec.Start(context.Background()); err == nil {
		t.Error("Expected error without event bus")
	}
}
