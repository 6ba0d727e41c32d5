package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/service"
)

// RetentionService deletes recordings older than the configured age and
// prunes directories left empty afterwards. One pass runs at startup,
// then one per interval.
type RetentionService struct {
	*service.ServiceBase
	root     string
	maxAge   time.Duration
	interval time.Duration

	mu       sync.Mutex
	sweeping bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService creates the retention sweeper for the given
// recordings root.
func NewRetentionService(cfg config.RetentionConfig, root string, log *logger.Logger) *RetentionService {
	return &RetentionService{
		ServiceBase: service.NewServiceBase("retention", log),
		root:        root,
		maxAge:      cfg.MaxAge,
		interval:    cfg.Interval,
	}
}

// Start launches the sweep loop.
func (s *RetentionService) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Retention service started", "max_age", s.maxAge, "interval", s.interval)
	return nil
}

// Stop halts the sweep loop. A pass already in flight finishes.
func (s *RetentionService) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (s *RetentionService) run(ctx context.Context) {
	defer close(s.done)

	// Immediate pass so files from previous runs do not linger a full
	// interval.
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweeping reports whether a pass is currently running.
func (s *RetentionService) Sweeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeping
}

// Sweep runs one retention pass. Overlapping calls return immediately.
func (s *RetentionService) Sweep() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	deleted := s.deleteExpired()
	s.pruneEmptyDirs()

	if len(deleted) > 0 {
		s.LogInfo("Retention sweep deleted recordings", "count", len(deleted))
		s.PublishEvent(service.EventTypeRetentionSwept, map[string]interface{}{
			"count": len(deleted),
			"paths": deleted,
		})
	}

	s.reportDiskPressure()
}

// reportDiskPressure warns when the recordings volume stays nearly full
// even after expired segments were swept.
func (s *RetentionService) reportDiskPressure() {
	usage, err := ReadDiskUsage(s.root)
	if err != nil {
		return
	}
	if usage.UsagePercent < MaxDiskUsagePercent {
		return
	}

	s.LogWarn("Recordings volume almost full",
		"usage_percent", usage.UsagePercent,
		"available_bytes", usage.AvailableBytes)
	s.PublishEvent(service.EventTypeStorageWarning, map[string]interface{}{
		"usage_percent":   usage.UsagePercent,
		"available_bytes": usage.AvailableBytes,
	})
}

// deleteExpired removes segment files older than maxAge and returns the
// deleted paths. Age comes from the filename timestamp when parseable,
// from the file mtime otherwise. Individual failures are logged and the
// pass continues.
func (s *RetentionService) deleteExpired() []string {
	cutoff := time.Now().Add(-s.maxAge)
	var deleted []string

	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".mp4") {
			return nil
		}

		ts, ok := SegmentTime(d.Name())
		if !ok {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			ts = info.ModTime()
		}

		if ts.After(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			s.LogWarn("Failed to delete expired recording", "path", path, "error", err)
			return nil
		}

		s.LogDebug("Deleted expired recording", "path", path, "age", time.Since(ts).Round(time.Minute))
		deleted = append(deleted, path)
		return nil
	})

	return deleted
}

// pruneEmptyDirs removes directories left empty by a sweep, deepest
// first. os.Remove refuses non-empty directories, which doubles as the
// emptiness test.
func (s *RetentionService) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() && path != s.root {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(os.PathSeparator)) > strings.Count(dirs[j], string(os.PathSeparator))
	})

	for _, dir := range dirs {
		if err := os.Remove(dir); err == nil {
			s.LogDebug("Removed empty directory", "path", dir)
		}
	}
}
