package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/recording"
	"github.com/camwatch/camwatch/internal/state"
	"github.com/camwatch/camwatch/internal/storage"
	"github.com/camwatch/camwatch/internal/video"
)

// StorageChecker verifies the recordings directory is writable and the
// filesystem has room left.
type StorageChecker struct {
	dir string
}

func NewStorageChecker(dir string) *StorageChecker {
	return &StorageChecker{dir: dir}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Recordings directory not writable: %v", err)
		return check
	}
	check.Details["dir"] = c.dir

	usage, err := storage.ReadDiskUsage(c.dir)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed to read disk usage: %v", err)
		return check
	}

	check.Details["total_bytes"] = usage.TotalBytes
	check.Details["available_bytes"] = usage.AvailableBytes
	check.Details["usage_percent"] = usage.UsagePercent

	if usage.UsagePercent >= storage.MaxDiskUsagePercent {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk almost full: %.1f%% used", usage.UsagePercent)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Recordings directory OK"
	return check
}

// TranscoderChecker reports whether the external transcoder binary was
// found. Absence degrades recording to built-in capture, so it never
// turns the report unhealthy.
type TranscoderChecker struct {
	probe *video.TranscoderProbe
}

func NewTranscoderChecker(probe *video.TranscoderProbe) *TranscoderChecker {
	return &TranscoderChecker{probe: probe}
}

func (c *TranscoderChecker) Name() string {
	return "transcoder"
}

func (c *TranscoderChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	result := c.probe.Result()
	check.Details["present"] = result.Present

	if !result.Present {
		check.Status = StatusDegraded
		check.Message = "Transcoder binary not found, recordings use built-in capture"
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Transcoder binary available"
	check.Details["path"] = result.Path
	return check
}

// CatalogChecker pings the segment catalog database.
type CatalogChecker struct {
	catalog *state.Catalog
}

func NewCatalogChecker(catalog *state.Catalog) *CatalogChecker {
	return &CatalogChecker{catalog: catalog}
}

func (c *CatalogChecker) Name() string {
	return "catalog"
}

func (c *CatalogChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.catalog.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Catalog ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Catalog database OK"
	return check
}

// CamerasChecker reports fleet counts. Informational only; an empty
// registry before the first scan is normal.
type CamerasChecker struct {
	registry   *camera.Registry
	supervisor *recording.Supervisor
}

func NewCamerasChecker(registry *camera.Registry, supervisor *recording.Supervisor) *CamerasChecker {
	return &CamerasChecker{registry: registry, supervisor: supervisor}
}

func (c *CamerasChecker) Name() string {
	return "cameras"
}

func (c *CamerasChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	cameras := c.registry.Count()
	recordings := c.supervisor.ActiveCount()

	check.Details["discovered"] = cameras
	check.Details["recording"] = recordings

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d camera(s), %d recording", cameras, recordings)
	return check
}
