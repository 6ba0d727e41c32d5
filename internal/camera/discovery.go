package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/service"
)

// DiscoveryService scans the configured subnet for ONVIF cameras and
// maintains the registry. Only one scan runs at a time; an overlapping
// request observes the flag and returns the existing registry.
type DiscoveryService struct {
	*service.ServiceBase

	cfg      config.DiscoveryConfig
	store    *config.Store
	registry *Registry
	prober   *Prober

	mu       sync.Mutex
	scanning bool

	autoStart func(index int, cam Camera)
}

// NewDiscoveryService creates the discovery engine
func NewDiscoveryService(cfg config.DiscoveryConfig, store *config.Store, registry *Registry, log *logger.Logger) *DiscoveryService {
	return &DiscoveryService{
		ServiceBase: service.NewServiceBase("discovery", log),
		cfg:         cfg,
		store:       store,
		registry:    registry,
		prober:      NewProber(cfg.ConnectTimeout, cfg.ProbeTimeout, log),
	}
}

// SetAutoStart registers a hook invoked once per discovered camera after
// every completed scan, in index order.
func (s *DiscoveryService) SetAutoStart(fn func(index int, cam Camera)) {
	s.autoStart = fn
}

// UpdateConfig replaces the scan settings. A scan already in flight keeps
// the settings it started with; the next scan picks up the new ones.
func (s *DiscoveryService) UpdateConfig(cfg config.DiscoveryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.prober = NewProber(cfg.ConnectTimeout, cfg.ProbeTimeout, s.GetLogger())
}

// Registry returns the registry this service maintains
func (s *DiscoveryService) Registry() *Registry {
	return s.registry
}

// Start launches the initial scan asynchronously
func (s *DiscoveryService) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	go s.Scan()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Discovery service started", "subnet", s.subnetPrefix(s.cfg), "ports", s.cfg.Ports)
	return nil
}

// Stop stops the service. A scan in flight is not cancellable and is left
// to run out; it only touches the registry.
func (s *DiscoveryService) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Discovery service stopped")
	return nil
}

// Scanning reports whether a scan is currently in flight
func (s *DiscoveryService) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// subnetPrefix resolves the subnet to scan: the configured prefix, or the
// host's primary private network when the config leaves it empty.
func (s *DiscoveryService) subnetPrefix(cfg config.DiscoveryConfig) string {
	if cfg.SubnetPrefix != "" {
		return cfg.SubnetPrefix
	}
	prefix, err := FindSubnetPrefix()
	if err != nil {
		s.LogWarn("Could not derive subnet prefix, using fallback", "error", err)
		return "192.168.100"
	}
	return prefix
}

// Scan walks <prefix>.1-254 on the configured ports through the worker
// pool and replaces the registry with the aggregated results. Individual
// probe failures never fail the scan. If a scan is already running the
// current registry is returned untouched.
func (s *DiscoveryService) Scan() []Camera {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		s.LogInfo("Scan already in progress, returning current cameras")
		return s.registry.List()
	}
	s.scanning = true
	cfg := s.cfg
	prober := s.prober
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	prefix := s.subnetPrefix(cfg)
	creds := s.store.Get()

	type candidate struct {
		host string
		port int
	}

	candidates := make([]candidate, 0, 254*len(cfg.Ports))
	for i := 1; i <= 254; i++ {
		host := fmt.Sprintf("%s.%d", prefix, i)
		for _, port := range cfg.Ports {
			candidates = append(candidates, candidate{host: host, port: port})
		}
	}

	s.LogInfo("Scanning for cameras", "prefix", prefix, "ports", cfg.Ports, "candidates", len(candidates))
	s.PublishEvent(service.EventTypeScanStarted, map[string]interface{}{
		"prefix":     prefix,
		"candidates": len(candidates),
	})
	started := time.Now()

	// Results keep submission order so registry indices are deterministic
	// for a given subnet and port list.
	results := make([]*Camera, len(candidates))
	jobs := make(chan int)
	var completed atomic.Int64

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				cand := candidates[idx]
				if cam, ok := prober.Probe(cand.host, cand.port, creds); ok {
					results[idx] = cam
				}
				if n := completed.Add(1); n%50 == 0 {
					s.LogInfo("Scan progress", "checked", n, "total", len(candidates))
				}
			}
		}()
	}

	for idx := range candidates {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	cameras := make([]Camera, 0)
	for _, cam := range results {
		if cam == nil {
			continue
		}
		cameras = append(cameras, *cam)
		s.LogInfo("Camera found", "host", cam.Host, "port", cam.Port, "name", cam.Name)
		s.PublishEvent(service.EventTypeCameraDiscovered, map[string]interface{}{
			"host": cam.Host,
			"port": cam.Port,
			"name": cam.Name,
		})
	}

	s.registry.Replace(cameras)

	s.LogInfo("Scan completed", "cameras", len(cameras), "duration", time.Since(started))
	s.PublishEvent(service.EventTypeScanCompleted, map[string]interface{}{
		"cameras":  len(cameras),
		"duration": time.Since(started).String(),
	})

	if s.autoStart != nil {
		for i, cam := range cameras {
			s.autoStart(i, cam)
		}
	}

	return cameras
}
