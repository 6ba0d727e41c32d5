package main

import (
	"fmt"
	"os"
	"time"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
)

func main() {
	fmt.Println("=== ONVIF Camera Scan Test ===")
	fmt.Println("This tool scans the configured subnet for ONVIF cameras")
	fmt.Println("Settings come from the config file and CAMWATCH_* environment variables")
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

	// Camera credentials
	store, err := config.NewStore(cfg.Auth.Path, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Username: %s\n", store.Get().Username)
	fmt.Printf("Ports:    %v\n", cfg.Discovery.Ports)
	fmt.Println()

	discovery := camera.NewDiscoveryService(cfg.Discovery, store, camera.NewRegistry(), log)

	fmt.Println("Scanning (this can take a minute)...")
	started := time.Now()
	cameras := discovery.Scan()

	fmt.Println()
	fmt.Println("=== Scan Results ===")
	fmt.Printf("Found %d camera(s) in %s\n\n", len(cameras), time.Since(started).Round(time.Second))

	if len(cameras) == 0 {
		fmt.Println("❌ No cameras found")
		fmt.Println()
		fmt.Println("Possible reasons:")
		fmt.Println("  - No ONVIF cameras on the scanned subnet")
		fmt.Println("  - Wrong ONVIF ports (set CAMWATCH_SCAN_PORTS)")
		fmt.Println("  - Wrong credentials in the credentials file")
		fmt.Println("  - Cameras respond slower than the probe timeout")
		os.Exit(0)
	}

	// Indices match the camera indices of the /record and /stream API
	for i, cam := range cameras {
		fmt.Printf("--- Camera %d ---\n", i)
		fmt.Printf("  Name:        %s\n", cam.Name)
		fmt.Printf("  Address:     %s\n", cam.Address())
		fmt.Printf("  Main stream: %s\n", orNone(cam.MainStreamURI))
		fmt.Printf("  Sub stream:  %s\n", orNone(cam.SubStreamURI))
		if cam.DeviceInfo.Manufacturer != "" || cam.DeviceInfo.Model != "" {
			fmt.Printf("  Device:      %s %s\n", cam.DeviceInfo.Manufacturer, cam.DeviceInfo.Model)
		}
		if cam.DeviceInfo.Firmware != "" {
			fmt.Printf("  Firmware:    %s\n", cam.DeviceInfo.Firmware)
		}
		fmt.Println()
	}

	fmt.Printf("✅ SUCCESS: Found %d camera(s)\n", len(cameras))
}

func orNone(uri string) string {
	if uri == "" {
		return "(none)"
	}
	return uri
}
