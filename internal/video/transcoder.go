package video

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/camwatch/camwatch/internal/logger"
)

// ProbeResult describes whether an external transcoder binary was found
// and, if so, where.
type ProbeResult struct {
	Present bool
	Path    string
}

// TranscoderProbe locates the ffmpeg binary once and caches the outcome
// for the lifetime of the process.
type TranscoderProbe struct {
	binary string
	logger *logger.Logger

	once   sync.Once
	result ProbeResult
}

// NewTranscoderProbe creates a probe for the given binary name
// (typically "ffmpeg").
func NewTranscoderProbe(binary string, log *logger.Logger) *TranscoderProbe {
	return &TranscoderProbe{
		binary: binary,
		logger: log.Named("transcoder"),
	}
}

// Result returns the cached probe outcome, running the detection on the
// first call. A missing binary is not an error: recording falls back to
// the built-in capture backend.
func (p *TranscoderProbe) Result() ProbeResult {
	p.once.Do(p.detect)
	return p.result
}

func (p *TranscoderProbe) detect() {
	for _, candidate := range p.candidates() {
		if p.check(candidate) {
			p.result = ProbeResult{Present: true, Path: candidate}
			p.logger.Info("Transcoder binary found", "path", candidate)
			return
		}
	}

	p.result = ProbeResult{Present: false}
	p.logger.Warn("Transcoder binary not found, recordings use built-in capture",
		"binary", p.binary)
}

// candidates returns the paths to try in order: PATH lookup first, then
// locations relative to the executable for bundled distributions.
func (p *TranscoderProbe) candidates() []string {
	var paths []string

	if found, err := exec.LookPath(p.binary); err == nil {
		paths = append(paths, found)
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, "ffmpeg", "bin", p.binary),
			filepath.Join(dir, "ffmpeg", p.binary),
			filepath.Join(dir, p.binary),
		)
	}

	return paths
}

// check runs "<path> -version" with a short timeout and reports whether
// the binary executed successfully.
func (p *TranscoderProbe) check(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}
