package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// segmentTimeLayout is the timestamp embedded in segment filenames.
const segmentTimeLayout = "2006-01-02_15-04-05"

// Layout computes where segment files live under the recordings root:
// <root>/<date>/<hour range>/<host>_<port>_<timestamp>.mp4.
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at the recordings directory.
func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

// Root returns the recordings root directory.
func (l *Layout) Root() string {
	return l.root
}

// SegmentPath returns the file path for a segment starting at t,
// creating the date and hour-range directories as needed. A second
// segment in the same wall-clock second gets a numeric suffix.
func (l *Layout) SegmentPath(host string, port int, t time.Time) (string, error) {
	hour := t.Hour()
	dir := filepath.Join(
		l.root,
		t.Format("2006-01-02"),
		fmt.Sprintf("%02d-00_%02d-00", hour, (hour+1)%24),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create segment directory: %w", err)
	}

	base := fmt.Sprintf("%s_%d_%s", host, port, t.Format(segmentTimeLayout))
	path := filepath.Join(dir, base+".mp4")
	for k := 1; ; k++ {
		if _, err := os.Stat(path); err != nil {
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", base, k))
	}
}

// SegmentTime extracts the start timestamp from a segment basename,
// encoded in its last two underscore-separated fields. ok is false for
// names outside the segment pattern; callers fall back to file mtime.
func SegmentTime(name string) (time.Time, bool) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}

	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	t, err := time.ParseInLocation(segmentTimeLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SegmentCamera extracts the "<host>_<port>" prefix from a segment
// basename, or "" when the name does not carry one.
func SegmentCamera(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return ""
	}
	return parts[0] + "_" + parts[1]
}
