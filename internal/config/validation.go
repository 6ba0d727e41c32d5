package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	// Validate server settings
	if c.Server.ListenAddr == "" {
		errors = append(errors, "server.listen_addr is required")
	} else if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		errors = append(errors, fmt.Sprintf("invalid server.listen_addr: %s (must be host:port)", c.Server.ListenAddr))
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}

	// Validate log format
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Validate discovery settings
	if c.Discovery.SubnetPrefix != "" {
		octets := strings.Split(c.Discovery.SubnetPrefix, ".")
		if len(octets) != 3 {
			errors = append(errors, fmt.Sprintf("invalid discovery.subnet_prefix: %s (must be the first three octets, e.g. 192.168.100)", c.Discovery.SubnetPrefix))
		} else if net.ParseIP(c.Discovery.SubnetPrefix+".1") == nil {
			errors = append(errors, fmt.Sprintf("invalid discovery.subnet_prefix: %s", c.Discovery.SubnetPrefix))
		}
	}

	if len(c.Discovery.Ports) == 0 {
		errors = append(errors, "discovery.ports must not be empty")
	}
	for _, p := range c.Discovery.Ports {
		if p < 1 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid discovery port: %d (must be 1-65535)", p))
		}
	}

	if c.Discovery.Workers <= 0 {
		errors = append(errors, fmt.Sprintf("discovery.workers must be > 0, got: %d", c.Discovery.Workers))
	}

	if c.Discovery.ConnectTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("discovery.connect_timeout must be > 0, got: %v", c.Discovery.ConnectTimeout))
	}

	if c.Discovery.ProbeTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("discovery.probe_timeout must be > 0, got: %v", c.Discovery.ProbeTimeout))
	}

	// Validate recording settings
	if c.Recording.Dir == "" {
		errors = append(errors, "recording.dir is required")
	}

	if c.Recording.SegmentDuration <= 0 {
		errors = append(errors, fmt.Sprintf("recording.segment_duration must be > 0, got: %v", c.Recording.SegmentDuration))
	}

	if c.Recording.MaxSegmentBytes <= 0 {
		errors = append(errors, fmt.Sprintf("recording.max_segment_bytes must be > 0, got: %d", c.Recording.MaxSegmentBytes))
	}

	if c.Recording.FFmpegBinary == "" {
		errors = append(errors, "recording.ffmpeg_binary is required")
	}

	// Validate retention settings
	if c.Retention.MaxAge <= 0 {
		errors = append(errors, fmt.Sprintf("retention.max_age must be > 0, got: %v", c.Retention.MaxAge))
	}

	if c.Retention.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("retention.interval must be > 0, got: %v", c.Retention.Interval))
	}

	// Validate preview settings
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		errors = append(errors, fmt.Sprintf("preview.jpeg_quality must be between 1 and 100, got: %d", c.Preview.Quality))
	}

	if c.Preview.FrameInterval <= 0 {
		errors = append(errors, fmt.Sprintf("preview.frame_interval must be > 0, got: %v", c.Preview.FrameInterval))
	}

	// Validate catalog settings
	if c.Catalog.Path == "" {
		errors = append(errors, "catalog.path is required")
	}

	// Validate auth settings
	if c.Auth.Path == "" {
		errors = append(errors, "auth.path is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
