package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/camwatch/camwatch/internal/logger"
)

// Service holds the live configuration and hands out reloads. The
// SIGHUP handler in main is the only reload driver; everything else
// just reads.
type Service struct {
	path   string
	logger *logger.Logger

	mu       sync.RWMutex
	config   *Config
	watchers []ConfigWatcher
}

// ConfigWatcher is notified after a successful reload with the old and
// the new configuration.
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads the configuration at path.
func NewService(path string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		path:   path,
		logger: log,
		config: cfg,
	}, nil
}

// Get returns the current configuration.
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Watch registers a watcher for future reloads.
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// Reload re-reads the configuration file and swaps it in. A file that
// no longer loads or validates leaves the current configuration
// untouched. Watchers run after the swap, outside the lock, so they
// may call Get.
func (s *Service) Reload(ctx context.Context) error {
	newConfig, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	oldConfig := s.config
	s.config = newConfig
	watchers := make([]ConfigWatcher, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Configuration watcher failed", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.path)
	return nil
}
