package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/camwatch/camwatch/internal/logger"
)

// stopTimeout bounds the Stop call of one service during shutdown.
const stopTimeout = 10 * time.Second

// Service is anything the manager can start and stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that talks to the event bus.
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

// Manager owns the service lifecycle. Registration order is start
// order; shutdown walks it in reverse so consumers outlive producers.
type Manager struct {
	logger   *logger.Logger
	eventBus *EventBus

	mu       sync.RWMutex
	services []Service
	statuses map[string]*ServiceStatus
	started  []Service
	wg       sync.WaitGroup
}

// NewManager creates an empty manager with its own event bus.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		logger:   log,
		eventBus: NewEventBus(100),
		statuses: make(map[string]*ServiceStatus),
	}
}

// GetEventBus returns the bus shared by all registered services.
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds a service and wires it to the event bus.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services = append(m.services, svc)
	m.statuses[svc.Name()] = NewServiceStatus(svc.Name())

	if withEvents, ok := svc.(ServiceWithEvents); ok {
		withEvents.SetEventBus(m.eventBus)
	}
}

// Start launches every registered service. A service that fails to
// start is marked and logged but never aborts its siblings; the rest of
// the system keeps running without it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.services))
	m.tapEvents(ctx)

	for _, svc := range m.services {
		status := m.statuses[svc.Name()]
		status.SetStatus(StatusStarting)
		m.started = append(m.started, svc)

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			m.eventBus.Publish(Event{
				Type:   EventTypeServiceStarted,
				Source: "manager",
				Data:   map[string]interface{}{"service": svc.Name()},
			})

			if err := svc.Start(ctx); err != nil {
				status.SetError(err)
				m.logger.Error("Service failed to start", "service", svc.Name(), "error", err)
				m.eventBus.Publish(Event{
					Type:   EventTypeServiceError,
					Source: svc.Name(),
					Data:   map[string]interface{}{"error": err.Error()},
				})
				return
			}

			status.SetStatus(StatusRunning)
			m.logger.Info("Service started", "service", svc.Name())
		}()
	}

	// Let the start goroutines settle before the caller proceeds.
	time.Sleep(100 * time.Millisecond)
	return nil
}

// tapEvents mirrors the domain events onto the debug log so a single
// log line trails every scan, recording and sweep.
func (m *Manager) tapEvents(ctx context.Context) {
	for _, typ := range []EventType{
		EventTypeScanStarted,
		EventTypeScanCompleted,
		EventTypeCameraDiscovered,
		EventTypeRecordingStarted,
		EventTypeRecordingStopped,
		EventTypeSegmentOpened,
		EventTypeSegmentClosed,
		EventTypeRetentionSwept,
		EventTypeStorageWarning,
	} {
		m.eventBus.SubscribeWithHandler(ctx, typ, func(_ context.Context, event Event) {
			m.logger.Debug("Event",
				"type", event.Type,
				"source", event.Source,
				"data", event.Data,
			)
		})
	}
}

// Shutdown stops the started services in reverse order, each under its
// own timeout, and closes the bus once all of them are down. The ctx
// deadline caps the whole pass.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Shutting down services", "count", len(m.started))
	defer m.eventBus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)

		for i := len(m.started) - 1; i >= 0; i-- {
			svc := m.started[i]
			status := m.statuses[svc.Name()]

			status.SetStatus(StatusStopping)
			m.logger.Info("Stopping service", "service", svc.Name())

			stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
			err := svc.Stop(stopCtx)
			cancel()

			if err != nil {
				status.SetError(err)
				m.logger.Error("Error stopping service", "service", svc.Name(), "error", err)
			} else {
				status.SetStatus(StatusStopped)
				m.logger.Info("Service stopped", "service", svc.Name())
			}

			m.eventBus.Publish(Event{
				Type:   EventTypeServiceStopped,
				Source: "manager",
				Data:   map[string]interface{}{"service": svc.Name()},
			})
		}

		m.wg.Wait()
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// GetServiceCount returns the number of registered services.
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}

// GetServiceStatus returns the status tracker for one service, or nil
// for an unknown name.
func (m *Manager) GetServiceStatus(serviceName string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[serviceName]
}

// GetAllStatuses returns the status trackers of all registered services.
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]*ServiceStatus, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}
