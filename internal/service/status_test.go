package service

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestServiceStatus_InitialState(t *testing.T) {
	st := NewServiceStatus("catalog")

	if st.Name != "catalog" {
		t.Errorf("expected name catalog, got %s", st.Name)
	}
	if got := st.GetStatus(); got != StatusStopped {
		t.Errorf("expected %s before start, got %s", StatusStopped, got)
	}
	if st.IsRunning() {
		t.Error("fresh tracker must not report running")
	}
	if st.GetUptime() != 0 {
		t.Error("fresh tracker must report zero uptime")
	}
}

func TestServiceStatus_RunningClearsError(t *testing.T) {
	st := NewServiceStatus("discovery")

	st.SetError(errors.New("subnet unreachable"))
	if got := st.GetStatus(); got != StatusError {
		t.Errorf("expected %s after SetError, got %s", StatusError, got)
	}
	if st.GetError() == nil {
		t.Fatal("error should be retrievable")
	}

	st.SetStatus(StatusRunning)
	if st.GetError() != nil {
		t.Error("entering running state should clear the error")
	}
	if st.StartedAt.IsZero() {
		t.Error("entering running state should stamp StartedAt")
	}
	if !st.IsRunning() {
		t.Error("tracker should report running")
	}
}

func TestServiceStatus_UptimeOnlyWhileRunning(t *testing.T) {
	st := NewServiceStatus("retention")

	st.SetStatus(StatusRunning)
	time.Sleep(50 * time.Millisecond)

	if up := st.GetUptime(); up < 50*time.Millisecond {
		t.Errorf("expected at least 50ms uptime, got %v", up)
	}

	st.SetStatus(StatusStopped)
	if up := st.GetUptime(); up != 0 {
		t.Errorf("stopped service should report zero uptime, got %v", up)
	}
}

func TestServiceStatus_ConcurrentAccess(t *testing.T) {
	st := NewServiceStatus("web")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				st.SetStatus(StatusRunning)
				_ = st.GetStatus()
				_ = st.IsRunning()
				_ = st.GetUptime()
				st.SetStatus(StatusStopping)
			}
		}()
	}
	wg.Wait()
}
