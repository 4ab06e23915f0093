package state

import (
	"context"
	"fmt"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// Recorder persists enumerated capture devices from the event bus.
// Predictions are never stored.
type Recorder struct {
	*service.ServiceBase
	state *Manager

	enumerated <-chan service.Event

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a device recorder backed by mgr
func NewRecorder(mgr *Manager, log *logger.Logger) *Recorder {
	return &Recorder{
		ServiceBase: service.NewServiceBase("recorder", log),
		state:       mgr,
	}
}

// SetEventBus subscribes immediately so enumerations published while other
// services start are not lost.
func (r *Recorder) SetEventBus(bus *service.EventBus) {
	r.ServiceBase.SetEventBus(bus)
	r.enumerated = bus.Subscribe(service.EventTypeCameraEnumerated)
}

// Start begins recording
func (r *Recorder) Start(ctx context.Context) error {
	if r.GetEventBus() == nil {
		return fmt.Errorf("recorder requires an event bus")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Recorder started")
	return nil
}

// Stop stops recording
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil

	r.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.enumerated:
			if !ok {
				return
			}
			r.recordDevices(ctx, ev)
		}
	}
}

func (r *Recorder) recordDevices(ctx context.Context, ev service.Event) {
	devices, ok := ev.Data["devices"].([]camera.Device)
	if !ok || len(devices) == 0 {
		return
	}
	if err := r.state.SaveDevices(ctx, devices); err != nil {
		r.LogError("Failed to record cameras", err)
	}
}
