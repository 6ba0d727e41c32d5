package streaming

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmjpeg"
	"github.com/pion/rtp"

	"github.com/camwatch/camwatch/internal/logger"
)

const previewOpenTimeout = 10 * time.Second

// captureMode selects how a source obtains its JPEG frames.
type captureMode int

const (
	// modeDirect reads a Motion-JPEG RTP track straight off the
	// camera's sub-stream.
	modeDirect captureMode = iota
	// modeChild re-encodes the sub-stream through the external
	// transcoder binary.
	modeChild
)

func (m captureMode) String() string {
	switch m {
	case modeDirect:
		return "direct"
	case modeChild:
		return "transcoder"
	default:
		return "unknown"
	}
}

// Source produces preview frames for one camera index. All viewers of
// that index share it; the broker tears it down when the last viewer
// leaves.
type Source struct {
	index  int
	uri    string
	mode   captureMode
	binary string
	qscale int
	log    *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// viewers is guarded by the broker's per-index gate.
	viewers int

	mu    sync.RWMutex
	frame []byte
	seq   uint64
}

// Frame returns the latest JPEG frame and its sequence number, or
// (nil, 0) before the first frame arrives. Callers must not modify
// the returned slice.
func (s *Source) Frame() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.seq
}

// Done is closed once the source has stopped producing frames.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) setFrame(frame []byte) {
	s.mu.Lock()
	s.frame = frame
	s.seq++
	s.mu.Unlock()
}

// shutdown stops the capture and waits for the worker to exit.
func (s *Source) shutdown() {
	s.cancel()
	<-s.done
}

// run captures frames until ctx is canceled. A read failure gets one
// reopen; the second failure ends the source.
func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	reopened := false
	for {
		err := s.capture(ctx)
		if ctx.Err() != nil || err == nil {
			return
		}

		if reopened {
			s.log.Error("Preview capture lost again, ending source", "error", err)
			return
		}
		reopened = true
		s.log.Warn("Preview capture failed, reopening once", "error", err)
	}
}

func (s *Source) capture(ctx context.Context) error {
	if s.mode == modeDirect {
		return s.captureDirect(ctx)
	}
	return s.captureChild(ctx)
}

// captureDirect plays the Motion-JPEG track off the sub-stream and
// stores each decoded image.
func (s *Source) captureDirect(ctx context.Context) error {
	u, err := base.ParseURL(s.uri)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  previewOpenTimeout,
		WriteTimeout: previewOpenTimeout,
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to describe stream: %w", err)
	}

	var (
		mjpegMedia  *description.Media
		mjpegFormat *format.MJPEG
	)
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if f, ok := forma.(*format.MJPEG); ok && mjpegFormat == nil {
				mjpegMedia, mjpegFormat = media, f
			}
		}
	}
	if mjpegFormat == nil {
		client.Close()
		return fmt.Errorf("no MJPEG track in stream")
	}

	if err := client.SetupAll(desc.BaseURL, []*description.Media{mjpegMedia}); err != nil {
		client.Close()
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	decoder := &rtpmjpeg.Decoder{}
	if err := decoder.Init(); err != nil {
		client.Close()
		return fmt.Errorf("failed to init decoder: %w", err)
	}

	client.OnPacketRTP(mjpegMedia, mjpegFormat, func(pkt *rtp.Packet) {
		image, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		s.setFrame(image)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("failed to play stream: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Wait() }()

	select {
	case <-ctx.Done():
		client.Close()
		<-errCh
		return nil
	case err := <-errCh:
		client.Close()
		return err
	}
}

// captureChild feeds the sub-stream through the transcoder and scans
// JPEG frames off its stdout.
func (s *Source) captureChild(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.binary,
		"-rtsp_transport", "tcp",
		"-i", s.uri,
		"-f", "mpjpeg",
		"-q:v", strconv.Itoa(s.qscale),
		"-")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	scanner := newJPEGScanner(stdout)
	for {
		frame, err := scanner.Next()
		if err != nil {
			waitErr := cmd.Wait()
			if ctx.Err() != nil {
				return nil
			}
			if waitErr != nil {
				return fmt.Errorf("transcoder exited: %w", waitErr)
			}
			return fmt.Errorf("transcoder output ended: %w", err)
		}
		s.setFrame(frame)
	}
}

// jpegQScale maps the configured JPEG quality (0-100, higher is
// better) onto the transcoder's qscale range (2-31, lower is better).
// The default quality of 85 lands on 7.
func jpegQScale(quality int) int {
	q := (100 - quality) / 2
	if q < 2 {
		q = 2
	}
	if q > 31 {
		q = 31
	}
	return q
}
