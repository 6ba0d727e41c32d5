package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Recording RecordingConfig `yaml:"recording"`
	Retention RetentionConfig `yaml:"retention"`
	Preview   PreviewConfig   `yaml:"preview"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig contains HTTP control plane settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	Headless     bool          `yaml:"headless"`
	BrowserDelay time.Duration `yaml:"browser_delay"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig contains subnet scan settings
type DiscoveryConfig struct {
	SubnetPrefix   string        `yaml:"subnet_prefix"`
	Ports          []int         `yaml:"ports"`
	Workers        int           `yaml:"workers"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

// RecordingConfig contains recording supervisor settings
type RecordingConfig struct {
	Dir             string        `yaml:"dir"`
	SegmentDuration time.Duration `yaml:"segment_duration"`
	MaxSegmentBytes int64         `yaml:"max_segment_bytes"`
	FFmpegBinary    string        `yaml:"ffmpeg_binary"`
	AutoStart       bool          `yaml:"auto_start"`
}

// RetentionConfig contains recording cleanup settings
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// PreviewConfig contains MJPEG live view settings
type PreviewConfig struct {
	Quality       int           `yaml:"jpeg_quality"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// CatalogConfig contains segment catalog settings
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig locates the persisted camera credentials file
type AuthConfig struct {
	Path string `yaml:"path"`
}

// Load loads configuration from a YAML file. A missing file yields the
// built-in defaults.
func Load(configPath string) (*Config, error) {
	config := &Config{}
	// Default-true flags are seeded before parsing so an explicit false
	// in the file is preserved.
	config.Recording.AutoStart = true
	setDefaults(config)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(config)
			if err := config.Validate(); err != nil {
				return nil, err
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	setDefaults(config)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults fills in zero-valued fields
func setDefaults(c *Config) {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0:8080"
	}
	if c.Server.BrowserDelay == 0 {
		c.Server.BrowserDelay = 1500 * time.Millisecond
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Discovery.SubnetPrefix == "" {
		c.Discovery.SubnetPrefix = "192.168.100"
	}
	if len(c.Discovery.Ports) == 0 {
		c.Discovery.Ports = []int{888, 835}
	}
	if c.Discovery.Workers == 0 {
		c.Discovery.Workers = 100
	}
	if c.Discovery.ConnectTimeout == 0 {
		c.Discovery.ConnectTimeout = 300 * time.Millisecond
	}
	if c.Discovery.ProbeTimeout == 0 {
		c.Discovery.ProbeTimeout = 5 * time.Second
	}

	if c.Recording.Dir == "" {
		c.Recording.Dir = "aufnahmen"
	}
	if c.Recording.SegmentDuration == 0 {
		c.Recording.SegmentDuration = 10 * time.Minute
	}
	if c.Recording.MaxSegmentBytes == 0 {
		c.Recording.MaxSegmentBytes = 500 * 1024 * 1024
	}
	if c.Recording.FFmpegBinary == "" {
		c.Recording.FFmpegBinary = "ffmpeg"
	}

	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = 24 * time.Hour
	}
	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}

	if c.Preview.Quality == 0 {
		c.Preview.Quality = 85
	}
	if c.Preview.FrameInterval == 0 {
		c.Preview.FrameInterval = 33 * time.Millisecond
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "camwatch.db"
	}

	if c.Auth.Path == "" {
		c.Auth.Path = "config.json"
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(c *Config) {
	if val := os.Getenv("CAMWATCH_LISTEN_ADDR"); val != "" {
		c.Server.ListenAddr = val
	}
	if val := os.Getenv("CAMWATCH_HEADLESS"); val != "" {
		c.Server.Headless = parseBool(val)
	}

	if val := os.Getenv("CAMWATCH_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("CAMWATCH_LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
	if val := os.Getenv("CAMWATCH_LOG_OUTPUT"); val != "" {
		c.Log.Output = val
	}

	if val := os.Getenv("CAMWATCH_SUBNET_PREFIX"); val != "" {
		c.Discovery.SubnetPrefix = val
	}
	if val := os.Getenv("CAMWATCH_SCAN_PORTS"); val != "" {
		ports := make([]int, 0, 2)
		for _, part := range strings.Split(val, ",") {
			p, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				ports = nil
				break
			}
			ports = append(ports, p)
		}
		if len(ports) > 0 {
			c.Discovery.Ports = ports
		}
	}
	if val := os.Getenv("CAMWATCH_SCAN_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Discovery.Workers = n
		}
	}

	if val := os.Getenv("CAMWATCH_RECORDING_DIR"); val != "" {
		c.Recording.Dir = val
	}
	if val := os.Getenv("CAMWATCH_FFMPEG_BINARY"); val != "" {
		c.Recording.FFmpegBinary = val
	}
	if val := os.Getenv("CAMWATCH_AUTO_START"); val != "" {
		c.Recording.AutoStart = parseBool(val)
	}

	if val := os.Getenv("CAMWATCH_RETENTION_MAX_AGE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Retention.MaxAge = d
		}
	}
	if val := os.Getenv("CAMWATCH_RETENTION_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Retention.Interval = d
		}
	}

	if val := os.Getenv("CAMWATCH_CATALOG_PATH"); val != "" {
		c.Catalog.Path = val
	}
	if val := os.Getenv("CAMWATCH_AUTH_PATH"); val != "" {
		c.Auth.Path = val
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
