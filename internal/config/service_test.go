package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camwatch/camwatch/internal/logger"
	"gopkg.in/yaml.v3"
)

// newTestService writes cfg to a fresh config file and opens a Service
// on it. The returned path can be rewritten to drive reloads.
func newTestService(t *testing.T, cfg *Config) (*Service, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeServiceConfig(t, path, cfg)

	svc, err := NewService(path, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, path
}

func writeServiceConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
}

func TestService_LoadsInitialConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Discovery.SubnetPrefix = "10.0.9"

	svc, _ := newTestService(t, cfg)

	got := svc.Get()
	if got == nil {
		t.Fatal("Service should hold a configuration")
	}
	if got.Discovery.SubnetPrefix != "10.0.9" {
		t.Errorf("Expected subnet prefix 10.0.9, got %s", got.Discovery.SubnetPrefix)
	}
}

func TestService_Reload(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	svc, path := newTestService(t, cfg)

	cfg.Log.Level = "debug"
	writeServiceConfig(t, path, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := svc.Get().Log.Level; got != "debug" {
		t.Errorf("Expected log level 'debug', got %s", got)
	}
}

func TestService_ReloadKeepsConfigOnError(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Discovery.SubnetPrefix = "10.0.9"

	svc, path := newTestService(t, cfg)

	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatalf("Failed to mangle config file: %v", err)
	}

	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Reload should fail on a malformed file")
	}
	if got := svc.Get().Discovery.SubnetPrefix; got != "10.0.9" {
		t.Errorf("Failed reload must keep the old configuration, got subnet prefix %s", got)
	}
}

func TestService_WatcherSeesSwappedConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	svc, path := newTestService(t, cfg)

	var calls int
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		calls++
		if oldConfig == nil || newConfig == nil {
			t.Error("Watcher should receive both old and new config")
		}
		if oldConfig.Log.Level != "info" || newConfig.Log.Level != "debug" {
			t.Errorf("Watcher saw levels %s -> %s, want info -> debug",
				oldConfig.Log.Level, newConfig.Log.Level)
		}
		// The swap happens before notification, so Get already serves
		// the new configuration here.
		if got := svc.Get().Log.Level; got != "debug" {
			t.Errorf("Get inside watcher returned level %s, want debug", got)
		}
		return nil
	})

	cfg.Log.Level = "debug"
	writeServiceConfig(t, path, cfg)

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly one watcher call, got %d", calls)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CAMWATCH_LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("CAMWATCH_LOG_LEVEL", "debug")
	t.Setenv("CAMWATCH_SUBNET_PREFIX", "10.0.0")
	t.Setenv("CAMWATCH_SCAN_PORTS", "888, 835, 8000")
	t.Setenv("CAMWATCH_RETENTION_MAX_AGE", "48h")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvOverrides(cfg)

	if cfg.Server.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("Expected listen addr 127.0.0.1:9090, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Discovery.SubnetPrefix != "10.0.0" {
		t.Errorf("Expected subnet prefix 10.0.0, got %s", cfg.Discovery.SubnetPrefix)
	}
	if len(cfg.Discovery.Ports) != 3 || cfg.Discovery.Ports[2] != 8000 {
		t.Errorf("Expected ports [888 835 8000], got %v", cfg.Discovery.Ports)
	}
	if cfg.Retention.MaxAge != 48*time.Hour {
		t.Errorf("Expected retention max age 48h, got %v", cfg.Retention.MaxAge)
	}
}

func TestApplyEnvOverrides_InvalidPorts(t *testing.T) {
	t.Setenv("CAMWATCH_SCAN_PORTS", "888,not-a-port")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvOverrides(cfg)

	// Unparseable list leaves the defaults in place
	if len(cfg.Discovery.Ports) != 2 || cfg.Discovery.Ports[0] != 888 || cfg.Discovery.Ports[1] != 835 {
		t.Errorf("Expected default ports [888 835], got %v", cfg.Discovery.Ports)
	}
}
