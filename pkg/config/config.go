// Package config loads runtime configuration from an optional YAML file
// and CELL_SENTRY_* environment variables. Flags in the command wrapper
// override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	// Input sources. StreamURL is a ws:// or wss:// line feed,
	// StreamPath a file or pipe ("-" for stdin). Both may be active.
	StreamURL  string `yaml:"stream_url"`
	StreamPath string `yaml:"stream_path"`

	// Snapshot polling: a file to read or a command to exec.
	SnapshotPath     string        `yaml:"snapshot_path"`
	SnapshotCommand  string        `yaml:"snapshot_command"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// Geolocation providers. Empty key or token disables the provider.
	BeaconDBURL      string `yaml:"beacondb_url"`
	OpenCellIDURL    string `yaml:"opencellid_url"`
	OpenCellIDKey    string `yaml:"opencellid_key"`
	UnwiredLabsURL   string `yaml:"unwiredlabs_url"`
	UnwiredLabsToken string `yaml:"unwiredlabs_token"`
	DisableBeaconDB  bool   `yaml:"disable_beacondb"`

	// Shared infrastructure, both optional.
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// Rate limit windows.
	ThrottleWindow time.Duration `yaml:"throttle_window"`
	Cooldown       time.Duration `yaml:"cooldown"`
	DedupWindow    time.Duration `yaml:"dedup_window"`

	// Enforcement flags.
	BlockGSM  bool `yaml:"block_gsm"`
	RejectA50 bool `yaml:"reject_a50"`

	// Static GPS fix for stationary posts.
	GPSLatitude  *float64 `yaml:"gps_latitude"`
	GPSLongitude *float64 `yaml:"gps_longitude"`

	// Housekeeping.
	Retention     time.Duration `yaml:"retention"`
	Workers       int           `yaml:"workers"`
	BufferSize    int           `yaml:"buffer_size"`
	MetricsListen string        `yaml:"metrics_listen"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		SnapshotInterval: 2 * time.Second,
		ThrottleWindow:   30 * time.Second,
		Cooldown:         5 * time.Second,
		DedupWindow:      10 * time.Second,
		Retention:        24 * time.Hour,
		Workers:          4,
		BufferSize:       10000,
		StatsInterval:    30 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file when path
// is non-empty, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// HasFix reports whether a static GPS fix is configured.
func (c *Config) HasFix() bool {
	return c.GPSLatitude != nil && c.GPSLongitude != nil
}

func (c *Config) applyEnv() {
	envString("CELL_SENTRY_STREAM_URL", &c.StreamURL)
	envString("CELL_SENTRY_STREAM_PATH", &c.StreamPath)
	envString("CELL_SENTRY_SNAPSHOT_PATH", &c.SnapshotPath)
	envString("CELL_SENTRY_SNAPSHOT_COMMAND", &c.SnapshotCommand)
	envDuration("CELL_SENTRY_SNAPSHOT_INTERVAL", &c.SnapshotInterval)
	envString("CELL_SENTRY_BEACONDB_URL", &c.BeaconDBURL)
	envString("CELL_SENTRY_OPENCELLID_URL", &c.OpenCellIDURL)
	envString("CELL_SENTRY_OPENCELLID_KEY", &c.OpenCellIDKey)
	envString("CELL_SENTRY_UNWIREDLABS_URL", &c.UnwiredLabsURL)
	envString("CELL_SENTRY_UNWIREDLABS_TOKEN", &c.UnwiredLabsToken)
	envBool("CELL_SENTRY_DISABLE_BEACONDB", &c.DisableBeaconDB)
	envString("CELL_SENTRY_REDIS", &c.RedisURL)
	envString("CELL_SENTRY_DATABASE", &c.DatabaseURL)
	envDuration("CELL_SENTRY_THROTTLE_WINDOW", &c.ThrottleWindow)
	envDuration("CELL_SENTRY_COOLDOWN", &c.Cooldown)
	envDuration("CELL_SENTRY_DEDUP_WINDOW", &c.DedupWindow)
	envBool("CELL_SENTRY_BLOCK_GSM", &c.BlockGSM)
	envBool("CELL_SENTRY_REJECT_A50", &c.RejectA50)
	envFloat("CELL_SENTRY_GPS_LAT", &c.GPSLatitude)
	envFloat("CELL_SENTRY_GPS_LON", &c.GPSLongitude)
	envDuration("CELL_SENTRY_RETENTION", &c.Retention)
	envInt("CELL_SENTRY_WORKERS", &c.Workers)
	envInt("CELL_SENTRY_BUFFER", &c.BufferSize)
	envString("CELL_SENTRY_METRICS_LISTEN", &c.MetricsListen)
	envDuration("CELL_SENTRY_STATS_INTERVAL", &c.StatsInterval)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst **float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}
