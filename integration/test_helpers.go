package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/state"
	"github.com/camwatch/camwatch/internal/storage"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir       string
	RecordingsDir string
	Config        *config.Config
	Catalog       *state.Catalog
	Logger        *logger.Logger
	CleanupFunc   func()
}

// SetupTestEnvironment creates a test environment: a recordings tree,
// a configuration pointing into it and an open segment catalog.
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	recordingsDir := filepath.Join(tmpDir, "aufnahmen")
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		t.Fatalf("Failed to create recordings dir: %v", err)
	}

	// Test config; 192.0.2.0/24 is reserved, nothing answers there
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			Headless:   true,
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "text",
		},
		Discovery: config.DiscoveryConfig{
			SubnetPrefix:   "192.0.2",
			Ports:          []int{888},
			Workers:        4,
			ConnectTimeout: 50 * time.Millisecond,
			ProbeTimeout:   time.Second,
		},
		Recording: config.RecordingConfig{
			Dir:             recordingsDir,
			SegmentDuration: time.Minute,
			MaxSegmentBytes: 10 * 1024 * 1024,
			FFmpegBinary:    "ffmpeg",
		},
		Retention: config.RetentionConfig{
			MaxAge:   24 * time.Hour,
			Interval: time.Hour,
		},
		Preview: config.PreviewConfig{
			Quality:       85,
			FrameInterval: 33 * time.Millisecond,
		},
		Catalog: config.CatalogConfig{
			Path: filepath.Join(tmpDir, "camwatch.db"),
		},
		Auth: config.AuthConfig{
			Path: filepath.Join(tmpDir, "config.json"),
		},
	}

	log := logger.NewNopLogger()

	catalog, err := state.NewCatalog(cfg.Catalog, recordingsDir, log)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}

	cleanup := func() {
		_ = catalog.Stop(context.Background())
	}

	return &TestEnvironment{
		TempDir:       tmpDir,
		RecordingsDir: recordingsDir,
		Config:        cfg,
		Catalog:       catalog,
		Logger:        log,
		CleanupFunc:   cleanup,
	}
}

// Cleanup cleans up the test environment
func (e *TestEnvironment) Cleanup() {
	if e.CleanupFunc != nil {
		e.CleanupFunc()
	}
}

// WriteSegment drops a dummy segment file into the recordings tree at
// the canonical location for the given camera and start time, and
// returns its absolute path.
func WriteSegment(t *testing.T, root, host string, port int, start time.Time) string {
	t.Helper()

	path, err := storage.NewLayout(root).SegmentPath(host, port, start)
	if err != nil {
		t.Fatalf("Failed to build segment path: %v", err)
	}
	if err := os.WriteFile(path, []byte("not really mp4"), 0o644); err != nil {
		t.Fatalf("Failed to write segment file: %v", err)
	}
	return path
}

// WaitForCondition waits for a condition to become true
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		<-ticker.C
	}

	return false
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
