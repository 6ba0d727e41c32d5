package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/camwatch/camwatch/internal/logger"
)

type fakeService struct {
	name      string
	startErr  error
	stopDelay time.Duration
	onStop    func()

	mu      sync.Mutex
	stopped bool
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	return f.startErr
}

func (f *fakeService) Stop(ctx context.Context) error {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	if f.onStop != nil {
		f.onStop()
	}
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeService) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeBusService struct {
	fakeService
	bus *EventBus
}

func (f *fakeBusService) SetEventBus(bus *EventBus) { f.bus = bus }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(newTestLogger(t))

	if mgr.GetServiceCount() != 0 {
		t.Errorf("expected empty manager, got %d services", mgr.GetServiceCount())
	}
	if mgr.GetEventBus() == nil {
		t.Fatal("event bus should be initialized")
	}

	plain := &fakeService{name: "plain"}
	withBus := &fakeBusService{fakeService: fakeService{name: "with-bus"}}
	mgr.Register(plain)
	mgr.Register(withBus)

	if mgr.GetServiceCount() != 2 {
		t.Errorf("expected 2 services, got %d", mgr.GetServiceCount())
	}

	status := mgr.GetServiceStatus("plain")
	if status == nil {
		t.Fatal("status tracker missing for registered service")
	}
	if status.GetStatus() != StatusStopped {
		t.Errorf("expected %s before start, got %s", StatusStopped, status.GetStatus())
	}

	if withBus.bus != mgr.GetEventBus() {
		t.Error("event bus not wired into bus-aware service")
	}
}

func TestManager_StartMarksRunning(t *testing.T) {
	mgr := NewManager(newTestLogger(t))
	mgr.Register(&fakeService{name: "worker"})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return mgr.GetServiceStatus("worker").GetStatus() == StatusRunning
	})

	if !mgr.GetServiceStatus("worker").IsRunning() {
		t.Error("service should report running")
	}
}

func TestManager_StartFailureDoesNotAbortSiblings(t *testing.T) {
	mgr := NewManager(newTestLogger(t))
	mgr.Register(&fakeService{name: "broken", startErr: errors.New("no device")})
	mgr.Register(&fakeService{name: "healthy"})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start should swallow individual failures: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return mgr.GetServiceStatus("broken").GetStatus() == StatusError &&
			mgr.GetServiceStatus("healthy").GetStatus() == StatusRunning
	})

	if mgr.GetServiceStatus("broken").GetError() == nil {
		t.Error("failing service should carry its error")
	}
}

func TestManager_ShutdownReverseOrder(t *testing.T) {
	mgr := NewManager(newTestLogger(t))

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	first := &fakeService{name: "first", onStop: record("first")}
	second := &fakeService{name: "second", onStop: record("second")}
	third := &fakeService{name: "third", onStop: record("third")}
	mgr.Register(first)
	mgr.Register(second)
	mgr.Register(third)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stops, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("stop %d: expected %s, got %s", i, want[i], order[i])
		}
	}

	for _, svc := range []*fakeService{first, second, third} {
		if !svc.wasStopped() {
			t.Errorf("service %s was not stopped", svc.name)
		}
		if got := mgr.GetServiceStatus(svc.name).GetStatus(); got != StatusStopped {
			t.Errorf("service %s: expected %s, got %s", svc.name, StatusStopped, got)
		}
	}
}

func TestManager_ShutdownTimeout(t *testing.T) {
	mgr := NewManager(newTestLogger(t))
	mgr.Register(&fakeService{name: "sluggish", stopDelay: 2 * time.Second})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := mgr.Shutdown(ctx); err == nil {
		t.Error("Shutdown should report the exceeded deadline")
	}
}

func TestManager_GetAllStatuses(t *testing.T) {
	mgr := NewManager(newTestLogger(t))
	mgr.Register(&fakeService{name: "one"})
	mgr.Register(&fakeService{name: "two"})

	statuses := mgr.GetAllStatuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses["one"] == nil || statuses["two"] == nil {
		t.Error("statuses should be indexed by service name")
	}
}

func TestManager_TapLogsDomainEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mgr := NewManager(&logger.Logger{Logger: zap.New(core)})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mgr.GetEventBus().Publish(Event{
		Type:   EventTypeCameraDiscovered,
		Source: "discovery",
		Data:   map[string]interface{}{"host": "192.0.2.7"},
	})

	waitFor(t, 2*time.Second, func() bool {
		return logs.FilterMessage("Event").Len() > 0
	})

	entry := logs.FilterMessage("Event").All()[0]
	if got := entry.ContextMap()["source"]; got != "discovery" {
		t.Errorf("expected tapped event source discovery, got %v", got)
	}
}
