package video

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
)

// Timescale used for the single video track of every written segment.
// 90 kHz matches the RTP clock rate of the captured stream.
const fmp4Timescale = 90000

// partDuration is the target span of a single moof/mdat pair.
const partDuration = 1 * time.Second

// SegmentWriter writes one fragmented-MP4 file: an init segment
// followed by ~1 s parts. Fragmented layout keeps the file playable up
// to the last flushed part even if the process dies mid-segment.
type SegmentWriter struct {
	f    *os.File
	seq  uint32
	size int64

	hasFirst bool
	firstDTS time.Duration

	queued    *fmp4.PartSample
	queuedDTS time.Duration
	lastDur   uint32

	partBase time.Duration
	samples  []*fmp4.PartSample
}

// NewH264SegmentWriter creates a segment file for an H.264 track.
// sps and pps are complete NALUs including their header byte.
func NewH264SegmentWriter(path string, sps, pps []byte) (*SegmentWriter, error) {
	return NewSegmentWriter(path, &fmp4.CodecH264{SPS: sps, PPS: pps})
}

// NewMPEG4VideoSegmentWriter creates a segment file for an MPEG-4
// Visual track described by the given decoder configuration.
func NewMPEG4VideoSegmentWriter(path string, config []byte) (*SegmentWriter, error) {
	return NewSegmentWriter(path, &fmp4.CodecMPEG4Video{Config: config})
}

// NewSegmentWriter creates path, truncating any previous file, and
// writes the init segment for the given codec.
func NewSegmentWriter(path string, codec fmp4.Codec) (*SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file: %w", err)
	}

	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        1,
			TimeScale: fmp4Timescale,
			Codec:     codec,
		}},
	}
	if err := init.Marshal(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write init segment: %w", err)
	}

	w := &SegmentWriter{f: f}
	if off, err := f.Seek(0, io.SeekCurrent); err == nil {
		w.size = off
	}
	return w, nil
}

// WriteSample appends a sample whose decode timestamp is dts. The
// sample is held back until the next one arrives so its duration can
// be computed; full parts are flushed to disk as they complete.
func (w *SegmentWriter) WriteSample(sample *fmp4.PartSample, dts time.Duration) error {
	if !w.hasFirst {
		w.hasFirst = true
		w.firstDTS = dts
	}
	dts -= w.firstDTS

	if w.queued != nil {
		dur := dts - w.queuedDTS
		if dur < 0 {
			dur = 0
		}
		w.queued.Duration = uint32(durationToTimescale(dur))
		w.lastDur = w.queued.Duration

		if len(w.samples) == 0 {
			w.partBase = w.queuedDTS
		}
		w.samples = append(w.samples, w.queued)

		if dts-w.partBase >= partDuration {
			if err := w.flushPart(); err != nil {
				return err
			}
		}
	}

	w.queued = sample
	w.queuedDTS = dts
	return nil
}

// WriteH264 appends one H.264 access unit. The sample payload is
// converted to length-prefixed form; non-IDR units are marked
// non-sync.
func (w *SegmentWriter) WriteH264(au [][]byte, pts, dts time.Duration) error {
	sample, err := fmp4.NewPartSampleH264(int32(durationToTimescale(pts-dts)), au)
	if err != nil {
		return err
	}
	return w.WriteSample(sample, dts)
}

// WriteMPEG4Video appends one MPEG-4 Visual frame. The format carries
// no frame reordering here, so pts doubles as the decode timestamp.
func (w *SegmentWriter) WriteMPEG4Video(frame []byte, randomAccess bool, pts time.Duration) error {
	return w.WriteSample(&fmp4.PartSample{
		IsNonSyncSample: !randomAccess,
		Payload:         frame,
	}, pts)
}

// Size returns the number of bytes flushed to disk so far.
func (w *SegmentWriter) Size() int64 {
	return w.size
}

// Close flushes pending samples and closes the file. The final sample
// reuses the duration of the one before it.
func (w *SegmentWriter) Close() error {
	if w.queued != nil {
		w.queued.Duration = w.lastDur
		if len(w.samples) == 0 {
			w.partBase = w.queuedDTS
		}
		w.samples = append(w.samples, w.queued)
		w.queued = nil
	}

	flushErr := w.flushPart()
	closeErr := w.f.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (w *SegmentWriter) flushPart() error {
	if len(w.samples) == 0 {
		return nil
	}

	part := fmp4.Part{
		SequenceNumber: w.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       1,
			BaseTime: uint64(durationToTimescale(w.partBase)),
			Samples:  w.samples,
		}},
	}
	if err := part.Marshal(w.f); err != nil {
		return fmt.Errorf("failed to write part: %w", err)
	}

	w.seq++
	w.samples = nil

	if off, err := w.f.Seek(0, io.SeekCurrent); err == nil {
		w.size = off
	}
	return nil
}

// durationToTimescale converts d to 90 kHz units without floating
// point drift over long segments.
func durationToTimescale(d time.Duration) int64 {
	secs := d / time.Second
	rem := d % time.Second
	return int64(secs)*fmp4Timescale + int64(rem)*fmp4Timescale/int64(time.Second)
}
