package video

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/camwatch/camwatch/internal/logger"
)

// writeStubBinary drops an executable script that responds to -version.
func writeStubBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write stub binary: %v", err)
	}
	return path
}

func TestTranscoderProbe_FoundOnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub binary requires a shell")
	}

	dir := t.TempDir()
	want := writeStubBinary(t, dir, "ffmpeg")
	t.Setenv("PATH", dir)

	probe := NewTranscoderProbe("ffmpeg", logger.NewNopLogger())
	result := probe.Result()

	if !result.Present {
		t.Fatal("Expected transcoder to be found")
	}
	if result.Path != want {
		t.Errorf("Expected path %s, got %s", want, result.Path)
	}
}

func TestTranscoderProbe_NotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	probe := NewTranscoderProbe("definitely-not-a-real-binary", logger.NewNopLogger())
	result := probe.Result()

	if result.Present {
		t.Errorf("Expected absent result, got path %s", result.Path)
	}
	if result.Path != "" {
		t.Errorf("Absent result should carry no path, got %s", result.Path)
	}
}

func TestTranscoderProbe_CachesResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub binary requires a shell")
	}

	dir := t.TempDir()
	stub := writeStubBinary(t, dir, "ffmpeg")
	t.Setenv("PATH", dir)

	probe := NewTranscoderProbe("ffmpeg", logger.NewNopLogger())
	first := probe.Result()
	if !first.Present {
		t.Fatal("Expected transcoder to be found")
	}

	// Removing the binary must not change the cached outcome.
	if err := os.Remove(stub); err != nil {
		t.Fatalf("Failed to remove stub: %v", err)
	}

	second := probe.Result()
	if !second.Present || second.Path != first.Path {
		t.Errorf("Expected cached result %+v, got %+v", first, second)
	}
}
