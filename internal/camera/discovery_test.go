package camera

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
)

func testDiscoveryService(t *testing.T, cfg config.DiscoveryConfig) *DiscoveryService {
	t.Helper()

	store, err := config.NewStore(filepath.Join(t.TempDir(), "config.json"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return NewDiscoveryService(cfg, store, NewRegistry(), logger.NewNopLogger())
}

func TestScan_NoPortsYieldsEmptyRegistry(t *testing.T) {
	svc := testDiscoveryService(t, config.DiscoveryConfig{
		SubnetPrefix:   "192.0.2",
		Ports:          nil,
		Workers:        4,
		ConnectTimeout: 50 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	autoStarted := 0
	svc.SetAutoStart(func(index int, cam Camera) { autoStarted++ })

	cameras := svc.Scan()
	if len(cameras) != 0 {
		t.Errorf("Expected no cameras, got %d", len(cameras))
	}
	if svc.Registry().Count() != 0 {
		t.Errorf("Registry should be empty, got %d", svc.Registry().Count())
	}
	if autoStarted != 0 {
		t.Errorf("Auto-start should not fire without cameras, fired %d times", autoStarted)
	}
	if svc.Scanning() {
		t.Error("Scanning flag should be cleared after a scan")
	}
}

func TestSubnetPrefix_Configured(t *testing.T) {
	svc := testDiscoveryService(t, config.DiscoveryConfig{
		SubnetPrefix:   "10.9.8",
		Ports:          []int{888},
		Workers:        1,
		ConnectTimeout: 50 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	if got := svc.subnetPrefix(svc.cfg); got != "10.9.8" {
		t.Errorf("Expected configured prefix 10.9.8, got %s", got)
	}
}

func TestSubnetPrefix_DerivedHasThreeOctets(t *testing.T) {
	svc := testDiscoveryService(t, config.DiscoveryConfig{
		SubnetPrefix:   "",
		Ports:          []int{888},
		Workers:        1,
		ConnectTimeout: 50 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	// Either derived from a local interface or the fallback; both are
	// three dot-separated octets.
	prefix := svc.subnetPrefix(svc.cfg)
	if prefix == "" {
		t.Fatal("subnetPrefix returned empty string")
	}
	dots := 0
	for _, r := range prefix {
		if r == '.' {
			dots++
		}
	}
	if dots != 2 {
		t.Errorf("Expected three octets, got %q", prefix)
	}
}

func TestUpdateConfig_AppliesToNextScan(t *testing.T) {
	svc := testDiscoveryService(t, config.DiscoveryConfig{
		SubnetPrefix:   "10.9.8",
		Ports:          []int{888},
		Workers:        1,
		ConnectTimeout: 50 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	svc.UpdateConfig(config.DiscoveryConfig{
		SubnetPrefix:   "172.16.0",
		Ports:          []int{835},
		Workers:        2,
		ConnectTimeout: 50 * time.Millisecond,
		ProbeTimeout:   time.Second,
	})

	if got := svc.subnetPrefix(svc.cfg); got != "172.16.0" {
		t.Errorf("Expected updated prefix 172.16.0, got %s", got)
	}
	if len(svc.cfg.Ports) != 1 || svc.cfg.Ports[0] != 835 {
		t.Errorf("Expected updated ports [835], got %v", svc.cfg.Ports)
	}
}
