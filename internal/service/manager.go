package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/digit-recognizer/internal/logger"
)

// stopTimeout bounds a single service's Stop within the shutdown deadline
const stopTimeout = 10 * time.Second

// Service represents a service that can be started and stopped
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that can publish events
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// Manager runs the pipeline services. Services start one at a time in
// registration order, so a capture session is live before the sampler and
// the web server that depend on it, and stop in reverse order.
type Manager struct {
	logger   *logger.Logger
	bus      *EventBus
	mu       sync.Mutex
	services []Service
	statuses map[string]*ServiceStatus
	running  []Service // started services, in start order
	unwatch  context.CancelFunc
}

// NewManager creates a manager with its own event bus
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:   log,
		bus:      NewEventBus(100),
		statuses: make(map[string]*ServiceStatus),
	}
}

// Bus returns the event bus shared by every registered service
func (m *Manager) Bus() *EventBus {
	return m.bus
}

// Register adds a service. Services that publish events get the bus now so
// they can subscribe before anything starts.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if withEvents, ok := svc.(ServiceWithEvents); ok {
		withEvents.SetEventBus(m.bus)
	}
}

// Start starts services in registration order. If one fails, the services
// already running are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running != nil {
		m.mu.Unlock()
		return fmt.Errorf("services already started")
	}
	services := append([]Service(nil), m.services...)
	m.running = make([]Service, 0, len(services))
	m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(services))
	m.watchEvents(ctx)

	for _, svc := range services {
		status := m.Status(svc.Name())
		status.SetStatus(StatusStarting)

		if err := svc.Start(ctx); err != nil {
			status.SetError(err)
			m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
			m.bus.Publish(Event{
				Type:   EventTypeServiceError,
				Source: svc.Name(),
				Data:   map[string]interface{}{"error": err.Error()},
			})

			rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			m.stopRunning(rollbackCtx)
			cancel()
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}

		status.SetStatus(StatusRunning)
		m.mu.Lock()
		m.running = append(m.running, svc)
		m.mu.Unlock()

		m.logger.Info("Service started", "service", svc.Name())
		m.bus.Publish(Event{
			Type:   EventTypeServiceStarted,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	return nil
}

// watchEvents logs every bus event at debug level
func (m *Manager) watchEvents(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.unwatch != nil {
		m.unwatch()
	}
	m.unwatch = cancel
	m.mu.Unlock()

	ch := m.bus.SubscribeAll()
	go func() {
		defer m.bus.UnsubscribeAll(ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				m.logger.Debug("Event received",
					"type", event.Type,
					"source", event.Source,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops running services in reverse start order and closes the
// event bus. It returns early with an error when ctx expires first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down services")

	done := make(chan error, 1)
	go func() {
		done <- m.stopRunning(ctx)
	}()

	var err error
	select {
	case err = <-done:
		m.logger.Info("All services stopped")
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}

	m.mu.Lock()
	if m.unwatch != nil {
		m.unwatch()
		m.unwatch = nil
	}
	m.mu.Unlock()
	m.bus.Close()

	return err
}

// stopRunning stops every started service, newest first, and forgets them
func (m *Manager) stopRunning(ctx context.Context) error {
	m.mu.Lock()
	running := m.running
	m.running = nil
	m.mu.Unlock()

	var errs []error
	for i := len(running) - 1; i >= 0; i-- {
		svc := running[i]
		status := m.Status(svc.Name())
		status.SetStatus(StatusStopping)
		m.logger.Info("Stopping service", "service", svc.Name())

		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		err := svc.Stop(stopCtx)
		cancel()

		if err != nil {
			status.SetError(err)
			m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
			continue
		}

		status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", svc.Name())
		m.bus.Publish(Event{
			Type:   EventTypeServiceStopped,
			Source: "manager",
			Data:   map[string]interface{}{"service": svc.Name()},
		})
	}

	return errors.Join(errs...)
}

// Count returns the number of registered services
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services)
}

// Status returns the status of a service, or nil if it is not registered
func (m *Manager) Status(name string) *ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[name]
}

// Statuses returns a copy of every service status keyed by name
func (m *Manager) Statuses() map[string]*ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
