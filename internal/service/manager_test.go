package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// lifecycleLog records Start and Stop calls across services
type lifecycleLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *lifecycleLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *lifecycleLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.calls, ",")
}

type fakeService struct {
	name       string
	log        *lifecycleLog
	startError error
	stopError  error
	stopDelay  time.Duration
	onStart    func()

	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeService) Name() string {
	return f.name
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.onStart != nil {
		f.onStart()
	}
	if f.log != nil {
		f.log.add("start:" + f.name)
	}
	if f.startError != nil {
		return f.startError
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	if f.log != nil {
		f.log.add("stop:" + f.name)
	}
	if f.stopError != nil {
		return f.stopError
	}
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeService) state() (started, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

type fakeEventService struct {
	fakeService
	bus *EventBus
}

func (f *fakeEventService) SetEventBus(bus *EventBus) {
	f.bus = bus
}

func shutdown(t *testing.T, mgr *Manager) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return mgr.Shutdown(ctx)
}

func TestNewManager(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	if mgr.Count() != 0 {
		t.Errorf("Expected 0 services, got %d", mgr.Count())
	}
	if mgr.Bus() == nil {
		t.Error("Event bus should be initialized")
	}
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&fakeService{name: "camera"})

	if mgr.Count() != 1 {
		t.Errorf("Expected 1 service, got %d", mgr.Count())
	}

	status := mgr.Status("camera")
	if status == nil {
		t.Fatal("Service status should be created")
	}
	if status.GetStatus() != StatusStopped {
		t.Errorf("Expected status %s, got %s", StatusStopped, status.GetStatus())
	}
	if mgr.Status("missing") != nil {
		t.Error("Expected nil status for an unregistered service")
	}
}

func TestManager_Register_WithEvents(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	svc := &fakeEventService{fakeService: fakeService{name: "sampler"}}
	mgr.Register(svc)

	if svc.bus != mgr.Bus() {
		t.Error("Event bus should be set at registration")
	}
}

func TestManager_StartsInRegistrationOrder(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	calls := &lifecycleLog{}

	camera := &fakeService{name: "camera", log: calls}
	sampler := &fakeService{name: "sampler", log: calls}
	web := &fakeService{name: "web", log: calls}

	// Each service must observe its predecessor fully started
	sampler.onStart = func() {
		if started, _ := camera.state(); !started {
			t.Error("sampler started before camera finished starting")
		}
	}
	web.onStart = func() {
		if started, _ := sampler.state(); !started {
			t.Error("web started before sampler finished starting")
		}
	}

	mgr.Register(camera)
	mgr.Register(sampler)
	mgr.Register(web)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Statuses are final when Start returns
	for _, name := range []string{"camera", "sampler", "web"} {
		if got := mgr.Status(name).GetStatus(); got != StatusRunning {
			t.Errorf("Expected %s running, got %s", name, got)
		}
	}

	if err := shutdown(t, mgr); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := "start:camera,start:sampler,start:web,stop:web,stop:sampler,stop:camera"
	if got := calls.String(); got != want {
		t.Errorf("Unexpected lifecycle order\n got: %s\nwant: %s", got, want)
	}
}

func TestManager_StartDoesNotHoldLock(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	done := make(chan struct{})
	svc := &fakeService{name: "camera", onStart: func() {
		mgr.Statuses()
		mgr.Count()
		close(done)
	}}
	mgr.Register(svc)

	go mgr.Start(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Manager accessors blocked while a service was starting")
	}
	shutdown(t, mgr)
}

func TestManager_Start_FailureStopsStartedServices(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	calls := &lifecycleLog{}

	camera := &fakeService{name: "camera", log: calls}
	sampler := &fakeService{name: "sampler", log: calls, startError: errors.New("bind failed")}
	web := &fakeService{name: "web", log: calls}
	mgr.Register(camera)
	mgr.Register(sampler)
	mgr.Register(web)

	failures := mgr.Bus().Subscribe(EventTypeServiceError)

	err := mgr.Start(context.Background())
	if err == nil {
		t.Fatal("Expected Start to fail")
	}
	if !strings.Contains(err.Error(), "sampler") || !strings.Contains(err.Error(), "bind failed") {
		t.Errorf("Expected error naming the failed service, got: %v", err)
	}

	if got, want := calls.String(), "start:camera,start:sampler,stop:camera"; got != want {
		t.Errorf("Unexpected lifecycle order\n got: %s\nwant: %s", got, want)
	}
	if started, _ := web.state(); started {
		t.Error("web should not start after an earlier failure")
	}

	status := mgr.Status("sampler")
	if status.GetStatus() != StatusError || status.GetError() == nil {
		t.Errorf("Expected sampler in error state, got %s", status.GetStatus())
	}
	if got := mgr.Status("camera").GetStatus(); got != StatusStopped {
		t.Errorf("Expected camera stopped again, got %s", got)
	}

	select {
	case ev := <-failures:
		if ev.Source != "sampler" {
			t.Errorf("Expected error event from sampler, got %s", ev.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("service.error event not received")
	}

	// Nothing left to stop
	if err := shutdown(t, mgr); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if got := calls.String(); strings.Count(got, "stop:camera") != 1 {
		t.Errorf("camera stopped more than once: %s", got)
	}
}

func TestManager_StartTwice(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&fakeService{name: "camera"})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
	shutdown(t, mgr)
}

func TestManager_Shutdown(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	svc1 := &fakeService{name: "service-1"}
	svc2 := &fakeService{name: "service-2"}
	mgr.Register(svc1)
	mgr.Register(svc2)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := shutdown(t, mgr); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, svc := range []*fakeService{svc1, svc2} {
		if _, stopped := svc.state(); !stopped {
			t.Errorf("%s should have been stopped", svc.name)
		}
		if got := mgr.Status(svc.name).GetStatus(); got != StatusStopped {
			t.Errorf("%s should be stopped, got %s", svc.name, got)
		}
	}

	// The bus is closed with the manager
	if _, ok := <-mgr.Bus().Subscribe(EventTypeServiceStarted); ok {
		t.Error("Expected closed subscription after shutdown")
	}
}

func TestManager_Shutdown_ReportsStopErrors(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())

	mgr.Register(&fakeService{name: "camera"})
	mgr.Register(&fakeService{name: "web", stopError: errors.New("listener busy")})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	err := shutdown(t, mgr)
	if err == nil || !strings.Contains(err.Error(), "web: listener busy") {
		t.Errorf("Expected stop error for web, got: %v", err)
	}
	if got := mgr.Status("camera").GetStatus(); got != StatusStopped {
		t.Errorf("camera should still be stopped, got %s", got)
	}
}

func TestManager_Shutdown_Timeout(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&fakeService{name: "slow-service", stopDelay: 2 * time.Second})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := mgr.Shutdown(ctx); err == nil {
		t.Error("Shutdown should time out and return an error")
	}
}

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	started := mgr.Bus().Subscribe(EventTypeServiceStarted)
	stopped := mgr.Bus().Subscribe(EventTypeServiceStopped)

	mgr.Register(&fakeService{name: "sampler"})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case ev := <-started:
		if ev.Data["service"] != "sampler" {
			t.Errorf("Expected service 'sampler', got %v", ev.Data["service"])
		}
	case <-time.After(time.Second):
		t.Fatal("service.started event not received")
	}

	// Stopped events are published before the bus closes
	if err := shutdown(t, mgr); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	ev, ok := <-stopped
	if !ok || ev.Data["service"] != "sampler" {
		t.Errorf("Expected service.stopped for sampler, got %v (ok=%v)", ev.Data, ok)
	}
}

func TestManager_Statuses(t *testing.T) {
	mgr := NewManager(logger.NewNopLogger())
	mgr.Register(&fakeService{name: "service-1"})
	mgr.Register(&fakeService{name: "service-2"})

	statuses := mgr.Statuses()
	if len(statuses) != 2 {
		t.Errorf("Expected 2 statuses, got %d", len(statuses))
	}
	if statuses["service-1"] == nil || statuses["service-2"] == nil {
		t.Error("Status for every registered service should exist")
	}
}
