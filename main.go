package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/health"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/recording"
	"github.com/camwatch/camwatch/internal/service"
	"github.com/camwatch/camwatch/internal/state"
	"github.com/camwatch/camwatch/internal/storage"
	"github.com/camwatch/camwatch/internal/video"
	"github.com/camwatch/camwatch/internal/web"
	"github.com/camwatch/camwatch/internal/web/streaming"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting camwatch",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	// The recordings tree must exist before the catalog, the retention
	// sweeper and the health checks look at it
	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		log.Error("Failed to create recordings directory", "dir", cfg.Recording.Dir, "error", err)
		os.Exit(1)
	}

	// Create main context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persisted camera credentials
	store, err := config.NewStore(cfg.Auth.Path, log)
	if err != nil {
		log.Error("Failed to load camera credentials", "error", err)
		os.Exit(1)
	}

	catalog, err := state.NewCatalog(cfg.Catalog, cfg.Recording.Dir, log)
	if err != nil {
		log.Error("Failed to open segment catalog", "error", err)
		os.Exit(1)
	}

	registry := camera.NewRegistry()
	discovery := camera.NewDiscoveryService(cfg.Discovery, store, registry, log)

	probe := video.NewTranscoderProbe(cfg.Recording.FFmpegBinary, log)
	supervisor := recording.NewSupervisor(cfg.Recording, store, registry, probe, log)

	if cfg.Recording.AutoStart {
		discovery.SetAutoStart(func(index int, cam camera.Camera) {
			err := supervisor.StartRecording(index)
			if err == nil {
				log.Info("Auto-started recording", "index", index, "camera", cam.Name)
				return
			}
			if !errors.Is(err, recording.ErrAlreadyRecording) {
				log.Warn("Auto-start failed", "index", index, "camera", cam.Name, "error", err)
			}
		})
	}

	retention := storage.NewRetentionService(cfg.Retention, cfg.Recording.Dir, log)
	previews := streaming.NewBroker(cfg.Preview, registry, probe, log)

	webSrv := web.NewServer(cfg.Server, cfg.Preview, log)
	webSrv.SetCameraDependencies(registry, discovery)
	webSrv.SetRecordingDependencies(supervisor, cfg.Recording.Dir)
	webSrv.SetCredentialsStore(store)
	webSrv.SetPreviewBroker(previews)
	webSrv.SetCatalog(catalog)

	// Create service manager
	svcMgr := service.NewManager(log)

	// Health is served through the web API rather than a separate
	// listener
	healthMgr := health.NewManager(svcMgr)
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Recording.Dir))
	healthMgr.RegisterChecker(health.NewTranscoderChecker(probe))
	healthMgr.RegisterChecker(health.NewCatalogChecker(catalog))
	healthMgr.RegisterChecker(health.NewCamerasChecker(registry, supervisor))
	webSrv.SetHealthManager(healthMgr)

	// Registration order doubles as reverse shutdown order: the web
	// server goes down first, the catalog last
	svcMgr.Register(catalog)
	svcMgr.Register(retention)
	svcMgr.Register(supervisor)
	svcMgr.Register(discovery)
	svcMgr.Register(previews)
	svcMgr.Register(webSrv)

	// SIGHUP re-reads the configuration file. Scan settings apply to
	// the next scan; everything else needs a restart.
	cfgSvc, err := config.NewService(configPath, log)
	if err != nil {
		log.Error("Failed to initialize configuration service", "error", err)
		os.Exit(1)
	}
	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		discovery.UpdateConfig(newConfig.Discovery)
		return nil
	})

	// Initialize and start services
	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	if !cfg.Server.Headless {
		url := dashboardURL(cfg.Server.ListenAddr)
		go func() {
			// Give the listener a moment to come up
			time.Sleep(cfg.Server.BrowserDelay)
			log.Info("Opening dashboard", "url", url)
			if err := browser.OpenURL(url); err != nil {
				log.Warn("Could not open browser", "url", url, "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, shutdownSignals()...)

	reloadChan := make(chan os.Signal, 1)
	if sigs := reloadSignals(); len(sigs) > 0 {
		signal.Notify(reloadChan, sigs...)
	}

	exitCode := 0
	for running := true; running; {
		select {
		case sig := <-sigChan:
			log.Info("Received shutdown signal", "signal", sig)
			running = false
		case <-reloadChan:
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
		case err := <-webSrv.Err():
			log.Error("Web server failed", "error", err)
			exitCode = 1
			running = false
		}
	}

	// Start graceful shutdown. The budget covers the per-service stop
	// timeouts applied by the manager.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// dashboardURL derives the address a local browser can reach from the
// listen address. Wildcard binds map to localhost.
func dashboardURL(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "http://localhost:8080"
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
