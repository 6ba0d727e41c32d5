package main

import (
	"fmt"
	"os"
	"time"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/recording"
	"github.com/camwatch/camwatch/internal/video"
)

// clipLength is how long the test recording runs before it is stopped.
const clipLength = 15 * time.Second

func main() {
	fmt.Println("=== Recording Pipeline Test ===")
	fmt.Println("This tool scans for cameras and records a short clip from the first one")
	fmt.Println()

	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create recordings directory: %v\n", err)
		os.Exit(1)
	}

	// Camera credentials
	store, err := config.NewStore(cfg.Auth.Path, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credentials: %v\n", err)
		os.Exit(1)
	}

	probe := video.NewTranscoderProbe(cfg.Recording.FFmpegBinary, log)
	if result := probe.Result(); result.Present {
		fmt.Printf("✅ Transcoder found: %s\n", result.Path)
	} else {
		fmt.Println("ℹ️  No transcoder binary, using the built-in capture backend")
	}
	fmt.Println()

	registry := camera.NewRegistry()
	discovery := camera.NewDiscoveryService(cfg.Discovery, store, registry, log)

	fmt.Println("Scanning for cameras...")
	cameras := discovery.Scan()
	if len(cameras) == 0 {
		fmt.Println("❌ No cameras found, nothing to record")
		os.Exit(1)
	}

	cam := cameras[0]
	fmt.Printf("Recording from camera 0: %s (%s)\n", cam.Name, cam.Address())

	supervisor := recording.NewSupervisor(cfg.Recording, store, registry, probe, log)

	if err := supervisor.StartRecording(0); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to start recording: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recording for %s...\n", clipLength)
	time.Sleep(clipLength)

	status := supervisor.Status()[0]
	filename := status.Filename

	if err := supervisor.StopRecording(0); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to stop recording: %v\n", err)
		os.Exit(1)
	}

	if filename == "" {
		fmt.Println("⚠️  Recording ran but produced no segment file")
		os.Exit(1)
	}

	info, err := os.Stat(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Segment file missing: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Printf("✅ SUCCESS: wrote %s (%d bytes)\n", filename, info.Size())
}
