package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/service"
	"github.com/camwatch/camwatch/internal/video"
)

// previewProbeTimeout bounds the DESCRIBE used to look for a
// Motion-JPEG track on the sub-stream.
const previewProbeTimeout = 5 * time.Second

// ErrPreviewUnavailable is returned when no capture path can serve a
// camera: the sub-stream carries no Motion-JPEG track and no
// transcoder binary is installed. The message is part of the HTTP API
// contract.
var ErrPreviewUnavailable = errors.New("Vorschau nicht verfügbar")

// FrameSource is the viewer-facing surface of a preview source.
type FrameSource interface {
	// Frame returns the latest JPEG frame and its sequence number,
	// or (nil, 0) before the first frame.
	Frame() ([]byte, uint64)
	// Done is closed when the source stops producing frames.
	Done() <-chan struct{}
}

// Broker hands out shared per-camera preview sources. The first viewer
// of an index creates its source, later viewers reuse it, and the last
// one leaving shuts it down. Lock order is per-index gate, then source
// map, the same discipline the recording supervisor uses.
type Broker struct {
	*service.ServiceBase
	cfg      config.PreviewConfig
	registry *camera.Registry
	probe    *video.TranscoderProbe

	gatesMu sync.Mutex
	gates   map[int]*sync.Mutex

	mu      sync.Mutex
	sources map[int]*Source
}

// NewBroker creates the preview broker.
func NewBroker(cfg config.PreviewConfig, registry *camera.Registry, probe *video.TranscoderProbe, log *logger.Logger) *Broker {
	return &Broker{
		ServiceBase: service.NewServiceBase("previews", log),
		cfg:         cfg,
		registry:    registry,
		probe:       probe,
		gates:       make(map[int]*sync.Mutex),
		sources:     make(map[int]*Source),
	}
}

// Start marks the broker running. Sources start on demand.
func (b *Broker) Start(ctx context.Context) error {
	b.GetStatus().SetStatus(service.StatusRunning)
	b.LogInfo("Preview broker started", "frame_interval", b.cfg.FrameInterval)
	return nil
}

// Stop shuts down every live source.
func (b *Broker) Stop(ctx context.Context) error {
	b.GetStatus().SetStatus(service.StatusStopping)

	b.mu.Lock()
	sources := b.sources
	b.sources = make(map[int]*Source)
	b.mu.Unlock()

	for _, src := range sources {
		src.shutdown()
	}

	b.GetStatus().SetStatus(service.StatusStopped)
	b.LogInfo("Preview broker stopped", "sources", len(sources))
	return nil
}

// Acquire returns the shared source for index, creating it when the
// camera has no viewers yet. Callers must pair it with Release.
func (b *Broker) Acquire(index int) (FrameSource, error) {
	gate := b.gate(index)
	gate.Lock()
	defer gate.Unlock()

	if src := b.lookup(index); src != nil {
		select {
		case <-src.done:
			// Capture already ended, only the map entry lingers.
			b.evict(index, src)
		default:
			src.viewers++
			return src, nil
		}
	}

	cam, err := b.registry.Get(index)
	if err != nil {
		return nil, err
	}

	uri := cam.SubStreamURI
	if uri == "" {
		uri = cam.MainStreamURI
	}
	if uri == "" {
		return nil, camera.ErrNoStreamURI
	}

	src, err := b.open(index, uri)
	if err != nil {
		return nil, err
	}

	src.viewers = 1
	b.mu.Lock()
	b.sources[index] = src
	b.mu.Unlock()

	b.LogInfo("Preview source started",
		"index", index, "host", cam.Host, "mode", src.mode.String())
	return src, nil
}

// Release drops one viewer from the source at index and shuts the
// source down when none remain.
func (b *Broker) Release(index int) {
	gate := b.gate(index)
	gate.Lock()
	defer gate.Unlock()

	src := b.lookup(index)
	if src == nil {
		return
	}

	src.viewers--
	if src.viewers > 0 {
		return
	}

	src.shutdown()
	b.evict(index, src)
	b.LogInfo("Preview source stopped, last viewer gone", "index", index)
}

// open decides the capture mode for the camera and starts the source.
// A Motion-JPEG track on the sub-stream is read directly; anything
// else goes through the transcoder when one is installed.
func (b *Broker) open(index int, uri string) (*Source, error) {
	mode := modeDirect
	hasMJPEG, err := video.HasMJPEGTrack(uri, previewProbeTimeout)
	if err != nil {
		b.LogDebug("Preview track probe failed", "index", index, "error", err)
	}
	if !hasMJPEG {
		if !b.probe.Result().Present {
			return nil, ErrPreviewUnavailable
		}
		mode = modeChild
	}

	src := &Source{
		index: index,
		uri:   uri,
		mode:  mode,
		log:   b.GetLogger().Named(fmt.Sprintf("preview-%d", index)),
		done:  make(chan struct{}),
	}
	if mode == modeChild {
		src.binary = b.probe.Result().Path
		src.qscale = jpegQScale(b.cfg.Quality)
	}

	ctx, cancel := context.WithCancel(context.Background())
	src.cancel = cancel
	go src.run(ctx)

	return src, nil
}

func (b *Broker) gate(index int) *sync.Mutex {
	b.gatesMu.Lock()
	defer b.gatesMu.Unlock()

	g, ok := b.gates[index]
	if !ok {
		g = &sync.Mutex{}
		b.gates[index] = g
	}
	return g
}

func (b *Broker) lookup(index int) *Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sources[index]
}

func (b *Broker) evict(index int, src *Source) {
	b.mu.Lock()
	if b.sources[index] == src {
		delete(b.sources, index)
	}
	b.mu.Unlock()
}
