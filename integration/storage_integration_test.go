package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/camwatch/camwatch/internal/health"
	"github.com/camwatch/camwatch/internal/service"
	"github.com/camwatch/camwatch/internal/state"
	"github.com/camwatch/camwatch/internal/storage"
)

// relTo converts an absolute segment path to the slash-separated
// root-relative form the catalog keys rows by.
func relTo(t *testing.T, root, path string) string {
	t.Helper()
	rel, err := filepath.Rel(root, path)
	if err != nil {
		t.Fatalf("Failed to compute relative path: %v", err)
	}
	return filepath.ToSlash(rel)
}

// TestStorage_RetentionSweepIntegration runs retention and catalog
// together: the sweep removes an expired segment from disk and its
// catalog row follows, while fresh segments survive both.
func TestStorage_RetentionSweepIntegration(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	now := time.Now()
	expiredPath := WriteSegment(t, env.RecordingsDir, "192.0.2.31", 888, now.Add(-48*time.Hour))
	freshPath := WriteSegment(t, env.RecordingsDir, "192.0.2.31", 888, now.Add(-time.Hour))

	ctx := context.Background()
	for _, row := range []struct {
		path    string
		started time.Time
	}{
		{expiredPath, now.Add(-48 * time.Hour)},
		{freshPath, now.Add(-time.Hour)},
	} {
		seg := state.Segment{
			ID:        uuid.NewString(),
			Camera:    "192.0.2.31:888",
			Path:      relTo(t, env.RecordingsDir, row.path),
			Backend:   "FRAME_GRAB",
			StartedAt: row.started,
		}
		if err := env.Catalog.InsertSegment(ctx, seg); err != nil {
			t.Fatalf("Failed to insert segment row: %v", err)
		}
	}

	manager := service.NewManager(env.Logger)
	manager.Register(env.Catalog)
	manager.Register(storage.NewRetentionService(env.Config.Retention, env.RecordingsDir, env.Logger))

	startCtx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()
	if err := manager.Start(startCtx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := ContextWithTimeout(10 * time.Second)
		defer shutdownCancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	expiredRel := relTo(t, env.RecordingsDir, expiredPath)
	ok := WaitForCondition(5*time.Second, func() bool {
		if _, err := os.Stat(expiredPath); !os.IsNotExist(err) {
			return false
		}
		seg, err := env.Catalog.GetSegment(ctx, expiredRel)
		return err == nil && seg == nil
	})
	if !ok {
		t.Fatal("Expired segment or its catalog row survived the sweep")
	}

	if _, err := os.Stat(freshPath); err != nil {
		t.Errorf("Fresh segment should survive the sweep: %v", err)
	}
	seg, err := env.Catalog.GetSegment(ctx, relTo(t, env.RecordingsDir, freshPath))
	if err != nil {
		t.Fatalf("Failed to read fresh segment row: %v", err)
	}
	if seg == nil {
		t.Error("Fresh segment row should survive the sweep")
	}
}

// TestStorage_CatalogReconcileIntegration covers the restart window: a
// segment deleted from disk while the catalog was offline is pruned on
// the next startup.
func TestStorage_CatalogReconcileIntegration(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	now := time.Now()
	vanishedPath := WriteSegment(t, env.RecordingsDir, "192.0.2.40", 835, now.Add(-30*time.Hour))
	keptPath := WriteSegment(t, env.RecordingsDir, "192.0.2.40", 835, now.Add(-time.Hour))

	ctx := context.Background()
	for _, row := range []struct {
		path    string
		started time.Time
	}{
		{vanishedPath, now.Add(-30 * time.Hour)},
		{keptPath, now.Add(-time.Hour)},
	} {
		seg := state.Segment{
			ID:        uuid.NewString(),
			Camera:    "192.0.2.40:835",
			Path:      relTo(t, env.RecordingsDir, row.path),
			Backend:   "TRANSCODER",
			StartedAt: row.started,
		}
		if err := env.Catalog.InsertSegment(ctx, seg); err != nil {
			t.Fatalf("Failed to insert segment row: %v", err)
		}
	}

	// Take the catalog offline and delete a file behind its back
	if err := env.Catalog.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop catalog: %v", err)
	}
	if err := os.Remove(vanishedPath); err != nil {
		t.Fatalf("Failed to remove segment file: %v", err)
	}

	reopened, err := state.NewCatalog(env.Config.Catalog, env.RecordingsDir, env.Logger)
	if err != nil {
		t.Fatalf("Failed to reopen catalog: %v", err)
	}

	manager := service.NewManager(env.Logger)
	manager.Register(reopened)

	startCtx, cancel := ContextWithTimeout(5 * time.Second)
	defer cancel()
	if err := manager.Start(startCtx); err != nil {
		t.Fatalf("Failed to start services: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := ContextWithTimeout(10 * time.Second)
		defer shutdownCancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	vanishedRel := relTo(t, env.RecordingsDir, vanishedPath)
	ok := WaitForCondition(3*time.Second, func() bool {
		seg, err := reopened.GetSegment(ctx, vanishedRel)
		return err == nil && seg == nil
	})
	if !ok {
		t.Fatal("Catalog row for the vanished segment was not pruned")
	}

	seg, err := reopened.GetSegment(ctx, relTo(t, env.RecordingsDir, keptPath))
	if err != nil {
		t.Fatalf("Failed to read surviving segment row: %v", err)
	}
	if seg == nil {
		t.Error("Row for the surviving segment should be kept")
	}
}

// TestStorage_DiskMonitoringIntegration checks the storage health probe
// against the real filesystem under the recordings directory.
func TestStorage_DiskMonitoringIntegration(t *testing.T) {
	env := SetupTestEnvironment(t)
	defer env.Cleanup()

	checker := health.NewStorageChecker(env.RecordingsDir)
	check := checker.Check(context.Background())

	if check.Status == health.StatusUnhealthy {
		t.Fatalf("Expected a usable recordings directory, got %s: %s", check.Status, check.Message)
	}

	total, ok := check.Details["total_bytes"].(int64)
	if !ok || total <= 0 {
		t.Errorf("Expected a positive total_bytes detail, got %v", check.Details["total_bytes"])
	}

	pct, ok := check.Details["usage_percent"].(float64)
	if !ok || pct < 0 || pct > 100 {
		t.Errorf("Expected usage_percent between 0 and 100, got %v", check.Details["usage_percent"])
	}
}
