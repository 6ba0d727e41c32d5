package recording

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/storage"
)

// transcoderBackend records by spawning the external transcoder binary
// once per segment. The child re-encodes the RTSP stream into a
// fragmented MP4 file; rotation and crash recovery replace the child.
type transcoderBackend struct {
	binary     string
	uri        string
	host       string
	port       int
	scaleW     int
	scaleH     int
	segmentDur time.Duration
	layout     *storage.Layout
	log        *logger.Logger
	sink       segmentSink

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	waitCh   chan error
	path     string
	openedAt time.Time
}

type transcoderParams struct {
	Binary     string
	URI        string
	Host       string
	Port       int
	ScaleW     int // 0 disables scaling
	ScaleH     int
	SegmentDur time.Duration
	Layout     *storage.Layout
	Logger     *logger.Logger
	Sink       segmentSink
}

func newTranscoderBackend(p transcoderParams) *transcoderBackend {
	return &transcoderBackend{
		binary:     p.Binary,
		uri:        p.URI,
		host:       p.Host,
		port:       p.Port,
		scaleW:     p.ScaleW,
		scaleH:     p.ScaleH,
		segmentDur: p.SegmentDur,
		layout:     p.Layout,
		log:        p.Logger,
		sink:       p.Sink,
	}
}

func (b *transcoderBackend) Kind() Backend {
	return BackendTranscoder
}

// Open spawns the child for the first segment.
func (b *transcoderBackend) Open(ctx context.Context) error {
	return b.spawn()
}

// Run rotates segments on schedule and respawns the child after
// unexpected exits, until ctx is canceled.
func (b *transcoderBackend) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var retryAt time.Time

	for {
		select {
		case <-ctx.Done():
			if b.cmd != nil {
				b.stopSegment()
			}
			return

		case err := <-b.waitCh:
			b.log.Warn("Transcoder exited unexpectedly",
				"file", filepath.Base(b.path), "error", err)
			b.finalizeSegment()
			b.clearChild()
			retryAt = time.Now().Add(respawnBackoff)

		case <-ticker.C:
			if b.cmd == nil {
				if time.Now().After(retryAt) {
					if err := b.spawn(); err != nil {
						b.log.Error("Failed to start transcoder segment", "error", err)
						retryAt = time.Now().Add(respawnBackoff)
					}
				}
				continue
			}
			if time.Since(b.openedAt) >= b.segmentDur {
				b.stopSegment()
				if err := b.spawn(); err != nil {
					b.log.Error("Failed to start transcoder segment", "error", err)
					retryAt = time.Now().Add(respawnBackoff)
				}
			}
		}
	}
}

// buildArgs assembles the transcoder command line for one segment.
// Fragmented MP4 output keeps the file playable if the child dies
// mid-segment.
func (b *transcoderBackend) buildArgs(outPath string) []string {
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", b.uri,
	}
	if b.scaleW > 0 && b.scaleH > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", b.scaleW, b.scaleH))
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+empty_moov+default_base_moof",
		"-frag_duration", "1",
		"-f", "mp4",
		"-y", outPath,
	)
}

// spawn starts the child for the next segment file.
func (b *transcoderBackend) spawn() error {
	now := time.Now()
	path, err := b.layout.SegmentPath(b.host, b.port, now)
	if err != nil {
		return err
	}

	cmd := exec.Command(b.binary, b.buildArgs(path)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	b.cmd = cmd
	b.stdin = stdin
	b.waitCh = waitCh
	b.path = path
	b.openedAt = now

	b.log.Info("Transcoder segment started",
		"file", filepath.Base(path), "pid", cmd.Process.Pid, "url", sanitizeURL(b.uri))
	b.sink.segmentOpened(path)
	return nil
}

// stopSegment runs the stop ladder on the current child and finalizes
// its file.
func (b *transcoderBackend) stopSegment() {
	if err := stopChild(b.cmd, b.stdin, b.waitCh); err != nil {
		b.log.Debug("Transcoder exit status", "error", err)
	}
	b.finalizeSegment()
	b.clearChild()
}

// finalizeSegment checks the finished file and reports it closed.
func (b *transcoderBackend) finalizeSegment() {
	if b.path == "" {
		return
	}

	var size int64
	if info, err := os.Stat(b.path); err == nil {
		size = info.Size()
	}

	corrupt := size < corruptThreshold
	if corrupt {
		b.log.Warn("Segment file suspiciously small, keeping it",
			"file", filepath.Base(b.path), "size", size)
	}

	b.sink.segmentClosed(b.path, size, corrupt)
	b.path = ""
}

func (b *transcoderBackend) clearChild() {
	b.cmd = nil
	b.stdin = nil
	b.waitCh = nil
}
