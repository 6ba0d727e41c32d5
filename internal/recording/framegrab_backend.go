package recording

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtpmpeg4video"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/storage"
	"github.com/camwatch/camwatch/internal/video"
)

const frameGrabOpenTimeout = 10 * time.Second

// frameGrabBackend records in-process: RTSP capture via gortsplib,
// remuxed into fragmented MP4 without re-encoding. Preferred track is
// H.264; streams without one fall back to MPEG-4 Visual.
type frameGrabBackend struct {
	uri        string
	host       string
	port       int
	segmentDur time.Duration
	maxBytes   int64
	layout     *storage.Layout
	log        *logger.Logger
	sink       segmentSink

	client *gortsplib.Client

	// mu guards everything below; the RTP callback and the Run loop
	// both touch the writer.
	mu       sync.Mutex
	isH264   bool
	sps      []byte
	pps      []byte
	m4vConf  []byte
	dtsExt   *h264.DTSExtractor
	writer   *video.SegmentWriter
	path     string
	openedAt time.Time
}

type frameGrabParams struct {
	URI        string
	Host       string
	Port       int
	SegmentDur time.Duration
	MaxBytes   int64
	Layout     *storage.Layout
	Logger     *logger.Logger
	Sink       segmentSink
}

func newFrameGrabBackend(p frameGrabParams) *frameGrabBackend {
	return &frameGrabBackend{
		uri:        p.URI,
		host:       p.Host,
		port:       p.Port,
		segmentDur: p.SegmentDur,
		maxBytes:   p.MaxBytes,
		layout:     p.Layout,
		log:        p.Logger,
		sink:       p.Sink,
	}
}

func (b *frameGrabBackend) Kind() Backend {
	return BackendFrameGrab
}

// Open connects to the stream, picks the video track and starts
// playback. Writing begins once the first random-access unit arrives.
func (b *frameGrabBackend) Open(ctx context.Context) error {
	u, err := base.ParseURL(b.uri)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  frameGrabOpenTimeout,
		WriteTimeout: frameGrabOpenTimeout,
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to describe stream: %w", err)
	}

	var (
		h264Media  *description.Media
		h264Format *format.H264
		m4vMedia   *description.Media
		m4vFormat  *format.MPEG4Video
	)
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch f := forma.(type) {
			case *format.H264:
				if h264Format == nil {
					h264Media, h264Format = media, f
				}
			case *format.MPEG4Video:
				if m4vFormat == nil {
					m4vMedia, m4vFormat = media, f
				}
			}
		}
	}

	switch {
	case h264Format != nil:
		if err := client.SetupAll(desc.BaseURL, []*description.Media{h264Media}); err != nil {
			client.Close()
			return fmt.Errorf("failed to setup stream: %w", err)
		}

		decoder := &rtph264.Decoder{}
		if err := decoder.Init(); err != nil {
			client.Close()
			return fmt.Errorf("failed to init decoder: %w", err)
		}

		b.mu.Lock()
		b.isH264 = true
		b.sps = h264Format.SPS
		b.pps = h264Format.PPS
		b.dtsExt = nil
		b.mu.Unlock()

		client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
			au, err := decoder.Decode(pkt)
			if err != nil {
				return
			}
			pts, ok := client.PacketPTS(h264Media, pkt)
			if !ok {
				return
			}
			b.processH264(au, pts)
		})

	case m4vFormat != nil:
		if err := client.SetupAll(desc.BaseURL, []*description.Media{m4vMedia}); err != nil {
			client.Close()
			return fmt.Errorf("failed to setup stream: %w", err)
		}

		decoder := &rtpmpeg4video.Decoder{}
		if err := decoder.Init(); err != nil {
			client.Close()
			return fmt.Errorf("failed to init decoder: %w", err)
		}

		b.mu.Lock()
		b.isH264 = false
		b.m4vConf = m4vFormat.Config
		b.mu.Unlock()

		client.OnPacketRTP(m4vMedia, m4vFormat, func(pkt *rtp.Packet) {
			frame, err := decoder.Decode(pkt)
			if err != nil {
				return
			}
			pts, ok := client.PacketPTS(m4vMedia, pkt)
			if !ok {
				return
			}
			b.processMPEG4(frame, pts)
		})

	default:
		client.Close()
		return fmt.Errorf("no supported video track in stream")
	}

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("failed to play stream: %w", err)
	}

	b.client = client
	return nil
}

// Run blocks until the stream dies or ctx is canceled. A mid-record
// stream loss gets one reconnect attempt; the second loss ends the
// session.
func (b *frameGrabBackend) Run(ctx context.Context) {
	reopened := false

	for {
		errCh := make(chan error, 1)
		go func(c *gortsplib.Client) {
			errCh <- c.Wait()
		}(b.client)

		select {
		case <-ctx.Done():
			b.client.Close()
			<-errCh
			b.mu.Lock()
			b.closeWriterLocked()
			b.mu.Unlock()
			return

		case err := <-errCh:
			b.client.Close()
			b.mu.Lock()
			b.closeWriterLocked()
			b.mu.Unlock()

			if reopened {
				b.log.Error("Stream lost again, ending session",
					"url", sanitizeURL(b.uri), "error", err)
				return
			}
			reopened = true

			b.log.Warn("Stream read failed, reconnecting once",
				"url", sanitizeURL(b.uri), "error", err)
			if err := b.Open(ctx); err != nil {
				b.log.Error("Failed to reopen stream", "error", err)
				return
			}
		}
	}
}

// processH264 handles one H.264 access unit from the RTP callback.
func (b *frameGrabBackend) processH264(au [][]byte, pts time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			b.sps = nalu
		case h264.NALUTypePPS:
			b.pps = nalu
		}
	}

	idr := h264.IDRPresent(au)

	// Rotate on a random-access unit so every file starts decodable.
	if b.writer != nil && idr && b.rotationDueLocked() {
		b.closeWriterLocked()
	}

	if b.writer == nil {
		if !idr || b.sps == nil || b.pps == nil {
			return
		}
		if err := b.openWriterLocked(); err != nil {
			b.log.Error("Failed to open segment file", "error", err)
			return
		}
	}

	if b.dtsExt == nil {
		b.dtsExt = h264.NewDTSExtractor()
	}
	dts, err := b.dtsExt.Extract(au, pts)
	if err != nil {
		b.log.Debug("DTS extraction failed", "error", err)
		return
	}

	if err := b.writer.WriteH264(au, pts, dts); err != nil {
		b.log.Error("Failed to write sample", "error", err)
		b.closeWriterLocked()
	}
}

// processMPEG4 handles one MPEG-4 Visual frame from the RTP callback.
func (b *frameGrabBackend) processMPEG4(frame []byte, pts time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rap := isMPEG4RandomAccess(frame)

	// Cameras that omit config= from the SDP prepend the VOS/VOL
	// headers to their I-frames instead.
	if len(b.m4vConf) == 0 {
		if i := bytes.Index(frame, mpeg4VOPStartCode); i > 0 && rap {
			b.m4vConf = append([]byte(nil), frame[:i]...)
		}
	}

	if b.writer != nil && rap && b.rotationDueLocked() {
		b.closeWriterLocked()
	}

	if b.writer == nil {
		if !rap || len(b.m4vConf) == 0 {
			return
		}
		if err := b.openWriterLocked(); err != nil {
			b.log.Error("Failed to open segment file", "error", err)
			return
		}
	}

	if err := b.writer.WriteMPEG4Video(frame, rap, pts); err != nil {
		b.log.Error("Failed to write sample", "error", err)
		b.closeWriterLocked()
	}
}

func (b *frameGrabBackend) rotationDueLocked() bool {
	return time.Since(b.openedAt) >= b.segmentDur || b.writer.Size() >= b.maxBytes
}

func (b *frameGrabBackend) openWriterLocked() error {
	now := time.Now()
	path, err := b.layout.SegmentPath(b.host, b.port, now)
	if err != nil {
		return err
	}

	var w *video.SegmentWriter
	if b.isH264 {
		w, err = video.NewH264SegmentWriter(path, b.sps, b.pps)
	} else {
		w, err = video.NewMPEG4VideoSegmentWriter(path, b.m4vConf)
	}
	if err != nil {
		return err
	}

	b.writer = w
	b.path = path
	b.openedAt = now

	b.log.Info("Segment started", "path", path)
	b.sink.segmentOpened(path)
	return nil
}

func (b *frameGrabBackend) closeWriterLocked() {
	if b.writer == nil {
		return
	}

	if err := b.writer.Close(); err != nil {
		b.log.Warn("Failed to finalize segment", "path", b.path, "error", err)
	}

	size := b.writer.Size()
	corrupt := size < corruptThreshold
	if corrupt {
		b.log.Warn("Segment file suspiciously small, keeping it",
			"path", b.path, "size", size)
	}

	b.sink.segmentClosed(b.path, size, corrupt)
	b.writer = nil
	b.path = ""
}

// mpeg4VOPStartCode marks a VOP header in an MPEG-4 Visual stream.
var mpeg4VOPStartCode = []byte{0x00, 0x00, 0x01, 0xb6}

// isMPEG4RandomAccess reports whether the frame contains an I-VOP.
func isMPEG4RandomAccess(frame []byte) bool {
	i := bytes.Index(frame, mpeg4VOPStartCode)
	if i < 0 || i+4 >= len(frame) {
		return false
	}
	return frame[i+4]>>6 == 0
}
