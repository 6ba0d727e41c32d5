package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/service"
)

// Segment is one catalog row describing a recorded file.
type Segment struct {
	ID        string
	Camera    string // "host:port"
	Path      string // relative to the recordings dir, slash-separated
	Backend   string
	StartedAt time.Time
	ClosedAt  *time.Time
	SizeBytes int64
	Corrupt   bool
}

// CameraStats aggregates catalog rows for one camera.
type CameraStats struct {
	Camera     string `json:"camera"`
	Segments   int    `json:"segments"`
	TotalBytes int64  `json:"total_bytes"`
	Corrupt    int    `json:"corrupt"`
}

// Catalog persists segment bookkeeping in SQLite. Rows are written from
// recording events and pruned when the retention sweeper deletes files;
// the recordings listing still walks the filesystem.
type Catalog struct {
	*service.ServiceBase
	db   *Database
	root string
	mu   sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCatalog opens (or creates) the catalog database. Stored paths are
// made relative to recordingsDir so the database survives a move of the
// recordings tree.
func NewCatalog(cfg config.CatalogConfig, recordingsDir string, log *logger.Logger) (*Catalog, error) {
	db, err := NewDatabase(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	return &Catalog{
		ServiceBase: service.NewServiceBase("catalog", log),
		db:          db,
		root:        recordingsDir,
		done:        make(chan struct{}),
	}, nil
}

// Start subscribes to recording and retention events.
func (c *Catalog) Start(ctx context.Context) error {
	c.LogInfo("Starting segment catalog", "path", c.db.dbPath)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	var opened, closed, swept <-chan service.Event
	if bus := c.GetEventBus(); bus != nil {
		opened = bus.Subscribe(service.EventTypeSegmentOpened)
		closed = bus.Subscribe(service.EventTypeSegmentClosed)
		swept = bus.Subscribe(service.EventTypeRetentionSwept)
	}
	go c.consume(runCtx, opened, closed, swept)

	c.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop drains the event consumer and closes the database.
func (c *Catalog) Stop(ctx context.Context) error {
	c.LogInfo("Stopping segment catalog")

	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}

	err := c.db.Close()
	c.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Ping reports whether the database is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.GetDB().PingContext(ctx)
}

// consume applies recording and retention events to the catalog. Nil
// channels (no event bus wired) simply never fire.
func (c *Catalog) consume(ctx context.Context, opened, closed, swept <-chan service.Event) {
	defer close(c.done)

	// Events published while the reconcile pass runs sit in the
	// subscription buffers and are applied right after.
	c.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-opened:
			if !ok {
				opened = nil
				continue
			}
			c.handleOpened(ctx, evt)

		case evt, ok := <-closed:
			if !ok {
				closed = nil
				continue
			}
			c.handleClosed(ctx, evt)

		case evt, ok := <-swept:
			if !ok {
				swept = nil
				continue
			}
			c.handleSwept(ctx, evt)
		}
	}
}

// reconcile drops rows whose files vanished while the catalog was not
// listening, e.g. segments the retention sweeper deleted during a
// restart window.
func (c *Catalog) reconcile(ctx context.Context) {
	if c.root == "" {
		return
	}

	paths, err := c.listPaths(ctx)
	if err != nil {
		c.LogWarn("Catalog reconcile skipped", "error", err)
		return
	}

	var stale []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(p))); os.IsNotExist(err) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		return
	}

	n, err := c.DeleteSegments(ctx, stale)
	if err != nil {
		c.LogError("Failed to prune stale catalog rows", err)
		return
	}
	c.LogInfo("Pruned stale catalog rows", "count", n)
}

func (c *Catalog) listPaths(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.GetDB().QueryContext(ctx, `SELECT path FROM segments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (c *Catalog) handleOpened(ctx context.Context, evt service.Event) {
	path, _ := evt.Data["path"].(string)
	if path == "" {
		return
	}
	backend, _ := evt.Data["backend"].(string)

	seg := Segment{
		ID:        uuid.NewString(),
		Camera:    cameraKey(evt.Data),
		Path:      c.relPath(path),
		Backend:   backend,
		StartedAt: evt.Timestamp,
	}
	if err := c.InsertSegment(ctx, seg); err != nil {
		c.LogError("Failed to record segment open", err, "path", seg.Path)
	}
}

func (c *Catalog) handleClosed(ctx context.Context, evt service.Event) {
	path, _ := evt.Data["path"].(string)
	if path == "" {
		return
	}
	size, _ := evt.Data["size"].(int64)
	corrupt, _ := evt.Data["corrupt"].(bool)

	if err := c.CloseSegment(ctx, c.relPath(path), evt.Timestamp, size, corrupt); err != nil {
		c.LogError("Failed to record segment close", err, "path", path)
	}
}

func (c *Catalog) handleSwept(ctx context.Context, evt service.Event) {
	paths, _ := evt.Data["paths"].([]string)
	if len(paths) == 0 {
		return
	}

	rel := make([]string, len(paths))
	for i, p := range paths {
		rel[i] = c.relPath(p)
	}

	n, err := c.DeleteSegments(ctx, rel)
	if err != nil {
		c.LogError("Failed to prune catalog rows", err)
		return
	}
	c.LogDebug("Pruned catalog rows", "count", n)
}

// InsertSegment records a newly opened segment. A reused path replaces
// the stale row.
func (c *Catalog) InsertSegment(ctx context.Context, seg Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `
		INSERT INTO segments (id, camera, path, backend, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id = excluded.id,
			camera = excluded.camera,
			backend = excluded.backend,
			started_at = excluded.started_at,
			closed_at = NULL,
			size_bytes = 0,
			corrupt = 0
	`

	_, err := c.db.GetDB().ExecContext(ctx, query,
		seg.ID, seg.Camera, seg.Path, seg.Backend, seg.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	return nil
}

// CloseSegment finalizes the row for path with its size and corrupt flag.
func (c *Catalog) CloseSegment(ctx context.Context, path string, closedAt time.Time, size int64, corrupt bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	query := `UPDATE segments SET closed_at = ?, size_bytes = ?, corrupt = ? WHERE path = ?`
	res, err := c.db.GetDB().ExecContext(ctx, query, closedAt, size, corrupt, path)
	if err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		c.LogDebug("Segment close for unknown path", "path", path)
	}

	return nil
}

// DeleteSegments removes the rows for the given paths and returns how
// many were deleted.
func (c *Catalog) DeleteSegments(ctx context.Context, paths []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var deleted int64
	for _, path := range paths {
		res, err := c.db.GetDB().ExecContext(ctx, `DELETE FROM segments WHERE path = ?`, path)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete segment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}

	return deleted, nil
}

// GetSegment retrieves the row for a relative path, or nil when absent.
func (c *Catalog) GetSegment(ctx context.Context, path string) (*Segment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	query := `
		SELECT id, camera, path, backend, started_at, closed_at, size_bytes, corrupt
		FROM segments WHERE path = ?
	`

	var seg Segment
	var closedAt sql.NullTime
	err := c.db.GetDB().QueryRowContext(ctx, query, path).Scan(
		&seg.ID, &seg.Camera, &seg.Path, &seg.Backend,
		&seg.StartedAt, &closedAt, &seg.SizeBytes, &seg.Corrupt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	if closedAt.Valid {
		seg.ClosedAt = &closedAt.Time
	}

	return &seg, nil
}

// Stats aggregates segment counts and bytes per camera.
func (c *Catalog) Stats(ctx context.Context) ([]CameraStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	query := `
		SELECT camera, COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(corrupt), 0)
		FROM segments
		GROUP BY camera
		ORDER BY camera
	`

	rows, err := c.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []CameraStats
	for rows.Next() {
		var s CameraStats
		if err := rows.Scan(&s.Camera, &s.Segments, &s.TotalBytes, &s.Corrupt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// relPath converts an absolute segment path into the stored form.
func (c *Catalog) relPath(path string) string {
	if c.root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(c.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func cameraKey(data map[string]interface{}) string {
	host, _ := data["host"].(string)
	port, _ := data["port"].(int)
	return fmt.Sprintf("%s:%d", host, port)
}
