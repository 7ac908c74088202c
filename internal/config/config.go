// Package config loads server configuration from a YAML file with
// sensible defaults. Secrets (the admin key) come from the environment,
// never from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server tuning.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	ArchiveDir string `yaml:"archive_dir"`

	WorldSeed   int64 `yaml:"world_seed"`
	WorldRadius int   `yaml:"world_radius"`

	// ContestedGap is the influence gap below which a territory counts
	// as contested.
	ContestedGap float64 `yaml:"contested_gap"`

	// StrategicValueThreshold gates contest-flip procedural triggers.
	StrategicValueThreshold int `yaml:"strategic_value_threshold"`

	// HighPriorityCutoff splits procedural jobs into tiers.
	HighPriorityCutoff int `yaml:"high_priority_cutoff"`

	RouteTimeout time.Duration `yaml:"route_timeout"`

	JobMaxAttempts int           `yaml:"job_max_attempts"`
	JobBackoffBase time.Duration `yaml:"job_backoff_base"`

	// AdminKey is the bearer token for write endpoints. Loaded from
	// FRONTLINE_ADMIN_KEY; empty disables admin POSTs.
	AdminKey string `yaml:"-"`
}

// Default returns the standard configuration.
func Default() Config {
	return Config{
		ListenAddr:              ":8080",
		DBPath:                  "data/frontline.db",
		ArchiveDir:              "data/archives",
		WorldSeed:               42,
		WorldRadius:             8,
		ContestedGap:            10.0,
		StrategicValueThreshold: 5,
		HighPriorityCutoff:      8,
		RouteTimeout:            100 * time.Millisecond,
		JobMaxAttempts:          3,
		JobBackoffBase:          time.Second,
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.AdminKey = os.Getenv("FRONTLINE_ADMIN_KEY")

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.WorldRadius < 2 {
		return fmt.Errorf("world_radius %d too small (min 2)", c.WorldRadius)
	}
	if c.ContestedGap <= 0 {
		return fmt.Errorf("contested_gap must be positive, got %v", c.ContestedGap)
	}
	if c.RouteTimeout <= 0 {
		return fmt.Errorf("route_timeout must be positive, got %v", c.RouteTimeout)
	}
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("job_max_attempts must be at least 1, got %d", c.JobMaxAttempts)
	}
	return nil
}
