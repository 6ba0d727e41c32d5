package recording

import (
	"context"
	"strings"
	"time"
)

// Backend identifies the capture mechanism of a session.
type Backend string

const (
	// BackendTranscoder records through an external ffmpeg child.
	BackendTranscoder Backend = "TRANSCODER"
	// BackendFrameGrab records in-process via RTSP capture and remux.
	BackendFrameGrab Backend = "FRAME_GRAB"
)

// Segment files smaller than this after finalization are flagged
// likely-corrupt. They are kept on disk either way.
const corruptThreshold = 1024

// segmentSink receives segment lifecycle notifications from a backend.
type segmentSink interface {
	segmentOpened(path string)
	segmentClosed(path string, size int64, corrupt bool)
}

// backend runs the capture loop of one session.
type backend interface {
	// Kind reports which mechanism the backend uses.
	Kind() Backend
	// Open establishes the stream or spawns the first child
	// synchronously, so open failures surface on the start call.
	Open(ctx context.Context) error
	// Run records segments until ctx is canceled and releases all
	// resources before returning. It must only be called after a
	// successful Open.
	Run(ctx context.Context)
}

const (
	pollInterval   = time.Second
	respawnBackoff = 2 * time.Second
)

// sanitizeURL removes embedded credentials from a stream URL so it can
// be logged.
func sanitizeURL(rawURL string) string {
	for _, proto := range []string{"rtsp://", "http://", "https://"} {
		if strings.HasPrefix(rawURL, proto) {
			rest := strings.TrimPrefix(rawURL, proto)
			if at := strings.Index(rest, "@"); at != -1 {
				return proto + "***:***@" + rest[at+1:]
			}
		}
	}
	return rawURL
}
