package recording

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/storage"
)

// 1920x1080 H.264 baseline parameter sets.
var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS = []byte{0x68, 0xcc, 0x3c, 0x80}
)

func newTestFrameGrab(t *testing.T, sink segmentSink) *frameGrabBackend {
	t.Helper()
	return newFrameGrabBackend(frameGrabParams{
		URI:        "rtsp://10.0.0.1:554/main",
		Host:       "10.0.0.1",
		Port:       888,
		SegmentDur: time.Hour,
		MaxBytes:   500 * 1024 * 1024,
		Layout:     storage.NewLayout(t.TempDir()),
		Logger:     logger.NewNopLogger(),
		Sink:       sink,
	})
}

func TestFrameGrabBackend_WriterLifecycle(t *testing.T) {
	sink := &recordSink{}
	b := newTestFrameGrab(t, sink)

	b.mu.Lock()
	b.isH264 = true
	b.sps = testSPS
	b.pps = testPPS
	err := b.openWriterLocked()
	path := b.path
	b.mu.Unlock()
	if err != nil {
		t.Fatalf("openWriterLocked failed: %v", err)
	}

	if len(sink.opened) != 1 || sink.opened[0] != path {
		t.Fatalf("Expected opened notification for %s, got %v", path, sink.opened)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Segment file missing: %v", err)
	}

	b.mu.Lock()
	b.closeWriterLocked()
	b.closeWriterLocked()
	cleared := b.writer == nil
	b.mu.Unlock()

	if len(sink.closed) != 1 {
		t.Fatalf("Expected one closed notification, got %d", len(sink.closed))
	}
	got := sink.closed[0]
	if got.path != path {
		t.Errorf("Closed path %s, want %s", got.path, path)
	}
	// An init-only file sits below the corruption threshold.
	if !got.corrupt {
		t.Error("Expected corrupt flag for init-only segment")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Segment must be kept on disk: %v", err)
	}
	if !cleared {
		t.Error("Writer must be cleared after close")
	}
}

func TestFrameGrabBackend_RotationDue(t *testing.T) {
	sink := &recordSink{}
	b := newTestFrameGrab(t, sink)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.isH264 = true
	b.sps = testSPS
	b.pps = testPPS
	if err := b.openWriterLocked(); err != nil {
		t.Fatalf("openWriterLocked failed: %v", err)
	}

	if b.rotationDueLocked() {
		t.Error("Fresh segment must not rotate")
	}

	b.openedAt = time.Now().Add(-2 * time.Hour)
	if !b.rotationDueLocked() {
		t.Error("Expected rotation once the segment duration elapsed")
	}

	b.openedAt = time.Now()
	b.maxBytes = 1
	if !b.rotationDueLocked() {
		t.Error("Expected rotation past the size cap")
	}

	b.closeWriterLocked()
}

func TestIsMPEG4RandomAccess(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"i-vop", []byte{0x00, 0x00, 0x01, 0xb6, 0x10, 0x60}, true},
		{"p-vop", []byte{0x00, 0x00, 0x01, 0xb6, 0x50, 0x00}, false},
		{"b-vop", []byte{0x00, 0x00, 0x01, 0xb6, 0x90, 0x00}, false},
		{"headers before vop", []byte{0x00, 0x00, 0x01, 0xb0, 0x01, 0x00, 0x00, 0x01, 0xb6, 0x00}, true},
		{"no vop", []byte{0x00, 0x00, 0x01, 0xb0, 0x01}, false},
		{"truncated", []byte{0x00, 0x00, 0x01, 0xb6}, false},
		{"empty", nil, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := isMPEG4RandomAccess(c.frame); got != c.want {
				t.Errorf("isMPEG4RandomAccess(% x) = %v, want %v", c.frame, got, c.want)
			}
		})
	}
}

func TestFrameGrabBackend_OpenInvalidURL(t *testing.T) {
	sink := &recordSink{}
	b := newTestFrameGrab(t, sink)
	b.uri = "not a url"

	if err := b.Open(context.Background()); err == nil {
		t.Error("Expected error for invalid URL")
	}
}
