package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/camwatch/camwatch/internal/logger"
)

// Credentials holds the camera access settings persisted in config.json.
// The JSON keys are a stable on-disk contract.
type Credentials struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	HalfResolution bool   `json:"half_resolution"`
}

// DefaultCredentials returns the factory settings
func DefaultCredentials() Credentials {
	return Credentials{
		Username:       "admin",
		Password:       "123456",
		HalfResolution: true,
	}
}

// Store persists camera credentials with atomic writes and a .bak snapshot
type Store struct {
	path   string
	logger *logger.Logger

	mu    sync.RWMutex
	creds Credentials
}

// NewStore loads the credentials file at path. A missing or malformed file
// is replaced with defaults.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: log,
		creds:  DefaultCredentials(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
		}
		log.Info("Credentials file missing, writing defaults", "path", path)
		if err := s.save(s.creds); err != nil {
			return nil, err
		}
		return s, nil
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Warn("Credentials file malformed, resetting to defaults", "path", path, "error", err)
		if err := s.save(s.creds); err != nil {
			return nil, err
		}
		return s, nil
	}

	s.creds = creds
	return s, nil
}

// Get returns a snapshot of the current credentials
func (s *Store) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Set replaces the credentials and persists them
func (s *Store) Set(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(creds); err != nil {
		return err
	}
	s.creds = creds
	return nil
}

// save writes creds to disk: a best-effort .bak copy of the previous file,
// then a temp-file write renamed over the destination.
func (s *Store) save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	data = append(data, '\n')

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, 0o644); err != nil {
			s.logger.Warn("Failed to write credentials backup", "path", s.path+".bak", "error", err)
		}
	}

	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write credentials file %s: %w", s.path, err)
	}
	return nil
}
