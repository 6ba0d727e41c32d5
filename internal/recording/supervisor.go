package recording

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/service"
	"github.com/camwatch/camwatch/internal/storage"
	"github.com/camwatch/camwatch/internal/video"
)

const (
	// streamProbeTimeout bounds the DESCRIBE used to size the
	// transcoder's scale filter.
	streamProbeTimeout = 5 * time.Second

	// sessionStopTimeout covers the full stop ladder plus slack.
	sessionStopTimeout = 20 * time.Second

	// drainDelay lets the backend's last file handles settle before
	// the session is evicted.
	drainDelay = 500 * time.Millisecond
)

// State tracks the lifecycle of a recording session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// SessionStatus describes one recording session for the status API.
type SessionStatus struct {
	Recording bool   `json:"recording"`
	Filename  string `json:"filename,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	UseFFmpeg bool   `json:"use_ffmpeg"`
}

// session is one per-camera recording, owned by the supervisor.
type session struct {
	index     int
	cam       camera.Camera
	kind      Backend
	backend   backend
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	filename string
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) Filename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

func (s *session) setFilename(path string) {
	s.mu.Lock()
	s.filename = path
	s.mu.Unlock()
}

// sessionSink forwards backend segment notifications into the session
// state and onto the event bus.
type sessionSink struct {
	sup  *Supervisor
	sess *session
}

func (k *sessionSink) segmentOpened(path string) {
	k.sess.setFilename(path)
	k.sup.PublishEvent(service.EventTypeSegmentOpened, map[string]interface{}{
		"index":   k.sess.index,
		"host":    k.sess.cam.Host,
		"port":    k.sess.cam.Port,
		"path":    path,
		"backend": string(k.sess.kind),
	})
}

func (k *sessionSink) segmentClosed(path string, size int64, corrupt bool) {
	k.sup.PublishEvent(service.EventTypeSegmentClosed, map[string]interface{}{
		"index":   k.sess.index,
		"host":    k.sess.cam.Host,
		"port":    k.sess.cam.Port,
		"path":    path,
		"size":    size,
		"corrupt": corrupt,
	})
}

// Supervisor manages one recording session per camera index. The only
// permitted nested lock order is per-index start gate, then session
// map; no lock is held across stream opens or child waits.
type Supervisor struct {
	*service.ServiceBase
	cfg      config.RecordingConfig
	store    *config.Store
	registry *camera.Registry
	probe    *video.TranscoderProbe
	layout   *storage.Layout

	gatesMu sync.Mutex
	gates   map[int]*sync.Mutex

	mu       sync.Mutex
	sessions map[int]*session
}

// NewSupervisor creates the recording supervisor.
func NewSupervisor(cfg config.RecordingConfig, store *config.Store, registry *camera.Registry, probe *video.TranscoderProbe, log *logger.Logger) *Supervisor {
	return &Supervisor{
		ServiceBase: service.NewServiceBase("recording", log),
		cfg:         cfg,
		store:       store,
		registry:    registry,
		probe:       probe,
		layout:      storage.NewLayout(cfg.Dir),
		gates:       make(map[int]*sync.Mutex),
		sessions:    make(map[int]*session),
	}
}

// Start marks the supervisor running. Sessions start on demand.
func (s *Supervisor) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Recording supervisor started", "dir", s.cfg.Dir)
	return nil
}

// Stop ends every active session.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.StopAll()
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// StartRecording begins a session for the camera at index.
func (s *Supervisor) StartRecording(index int) error {
	gate := s.gate(index)
	gate.Lock()
	defer gate.Unlock()

	if existing := s.lookup(index); existing != nil {
		select {
		case <-existing.done:
			// Worker already gone, only the map entry lingers.
			s.evict(index, existing)
		default:
			return ErrAlreadyRecording
		}
	}

	cam, err := s.registry.Get(index)
	if err != nil {
		return err
	}
	if cam.MainStreamURI == "" {
		return camera.ErrNoStreamURI
	}

	sess := &session{
		index:     index,
		cam:       cam,
		state:     StateStarting,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	sess.ctx, sess.cancel = context.WithCancel(context.Background())
	sink := &sessionSink{sup: s, sess: sess}

	if result := s.probe.Result(); result.Present {
		sess.kind = BackendTranscoder
		sess.backend = newTranscoderBackend(transcoderParams{
			Binary:     result.Path,
			URI:        cam.MainStreamURI,
			Host:       cam.Host,
			Port:       cam.Port,
			ScaleW:     0,
			ScaleH:     0,
			SegmentDur: s.cfg.SegmentDuration,
			Layout:     s.layout,
			Logger:     s.sessionLogger(index),
			Sink:       sink,
		})
		if s.store.Get().HalfResolution {
			info, err := video.ProbeStream(cam.MainStreamURI, streamProbeTimeout)
			if err != nil {
				s.LogWarn("Stream probe failed, using fallback dimensions",
					"host", cam.Host, "error", err)
			}
			tb := sess.backend.(*transcoderBackend)
			tb.scaleW, tb.scaleH = info.Half()
		}
	} else {
		sess.kind = BackendFrameGrab
		sess.backend = newFrameGrabBackend(frameGrabParams{
			URI:        cam.MainStreamURI,
			Host:       cam.Host,
			Port:       cam.Port,
			SegmentDur: s.cfg.SegmentDuration,
			MaxBytes:   s.cfg.MaxSegmentBytes,
			Layout:     s.layout,
			Logger:     s.sessionLogger(index),
			Sink:       sink,
		})
	}

	if err := sess.backend.Open(sess.ctx); err != nil {
		sess.cancel()
		s.LogError("Failed to open stream for recording", err,
			"index", index, "host", cam.Host)
		return fmt.Errorf("%w: %v", ErrStreamOpenFailed, err)
	}

	sess.setState(StateRunning)
	s.mu.Lock()
	s.sessions[index] = sess
	s.mu.Unlock()

	go s.runSession(sess)

	s.LogInfo("Recording started",
		"index", index, "host", cam.Host, "port", cam.Port, "backend", string(sess.kind))
	s.PublishEvent(service.EventTypeRecordingStarted, map[string]interface{}{
		"index":   index,
		"host":    cam.Host,
		"port":    cam.Port,
		"backend": string(sess.kind),
	})
	return nil
}

// StopRecording ends the session at index.
func (s *Supervisor) StopRecording(index int) error {
	gate := s.gate(index)
	gate.Lock()
	defer gate.Unlock()

	sess := s.lookup(index)
	if sess == nil || sess.State() != StateRunning {
		return ErrNotRecording
	}

	sess.setState(StateStopping)
	sess.cancel()

	select {
	case <-sess.done:
	case <-time.After(sessionStopTimeout):
		s.LogWarn("Session did not stop in time", "index", index)
	}

	time.Sleep(drainDelay)
	s.evict(index, sess)

	s.LogInfo("Recording stopped", "index", index, "host", sess.cam.Host)
	s.PublishEvent(service.EventTypeRecordingStopped, map[string]interface{}{
		"index": index,
		"host":  sess.cam.Host,
		"port":  sess.cam.Port,
	})
	return nil
}

// StopAll ends every active session, lowest index first.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	indices := make([]int, 0, len(s.sessions))
	for index := range s.sessions {
		indices = append(indices, index)
	}
	s.mu.Unlock()

	sort.Ints(indices)
	for _, index := range indices {
		if err := s.StopRecording(index); err != nil && !errors.Is(err, ErrNotRecording) {
			s.LogError("Failed to stop recording", err, "index", index)
		}
	}
}

// Status reports every live session keyed by camera index.
func (s *Supervisor) Status() map[int]SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]SessionStatus, len(s.sessions))
	for index, sess := range s.sessions {
		out[index] = SessionStatus{
			Recording: sess.State() == StateRunning,
			Filename:  sess.Filename(),
			StartTime: sess.startedAt.Format(time.RFC3339),
			UseFFmpeg: sess.kind == BackendTranscoder,
		}
	}
	return out
}

// Recording reports whether a session is live at index.
func (s *Supervisor) Recording(index int) bool {
	sess := s.lookup(index)
	return sess != nil && sess.State() == StateRunning
}

// ActiveCount returns the number of live sessions.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// runSession blocks on the backend and cleans up after it. Sessions
// ended by StopRecording leave eviction to the caller; sessions that
// die on their own evict themselves.
func (s *Supervisor) runSession(sess *session) {
	sess.backend.Run(sess.ctx)

	stopping := sess.State() == StateStopping
	sess.setState(StateIdle)
	close(sess.done)

	if stopping {
		return
	}

	gate := s.gate(sess.index)
	gate.Lock()
	s.mu.Lock()
	removed := s.sessions[sess.index] == sess
	if removed {
		delete(s.sessions, sess.index)
	}
	s.mu.Unlock()
	gate.Unlock()

	if removed {
		s.LogWarn("Recording ended unexpectedly",
			"index", sess.index, "host", sess.cam.Host)
		s.PublishEvent(service.EventTypeRecordingStopped, map[string]interface{}{
			"index":  sess.index,
			"host":   sess.cam.Host,
			"port":   sess.cam.Port,
			"reason": "stream lost",
		})
	}
}

func (s *Supervisor) gate(index int) *sync.Mutex {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()

	g, ok := s.gates[index]
	if !ok {
		g = &sync.Mutex{}
		s.gates[index] = g
	}
	return g
}

func (s *Supervisor) lookup(index int) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[index]
}

// evict removes the session from the map if it is still the current
// one. Callers hold the index gate.
func (s *Supervisor) evict(index int, sess *session) {
	s.mu.Lock()
	if s.sessions[index] == sess {
		delete(s.sessions, index)
	}
	s.mu.Unlock()
}

func (s *Supervisor) sessionLogger(index int) *logger.Logger {
	return s.GetLogger().Named(fmt.Sprintf("session-%d", index))
}
