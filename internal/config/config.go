// Package config loads the control plane's own runtime configuration
// (ports, store/object-store endpoints, polling cadences) — distinct from
// registrytypes.IndexerConfig, which is the per-indexer configuration read
// from the on-chain registry.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the coordinator/block-streamer process configuration, loaded
// once at startup from a YAML file and never mutated afterward.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	BitmapServiceURL string `yaml:"bitmap_service_url"`
	LakeBucket       string `yaml:"lake_bucket"`

	GRPCPort    int `yaml:"grpc_port"`
	HealthPort  int `yaml:"health_port"`
	MetricsPort int `yaml:"metrics_port"`

	// BlockStreamerAddr/RunnerAddr are the addresses the coordinator's
	// Worker Handles dial: the block-streamer worker process this repo
	// also builds (cmd/blockstreamer), and the external runner service
	// (executors + data layer) spec §2 treats as an outbound dependency.
	BlockStreamerAddr string `yaml:"block_streamer_addr"`
	RunnerAddr        string `yaml:"runner_addr"`

	// SynchroniserInterval is how often the Synchroniser re-polls the
	// registry for drift between desired and running state (spec §4.8).
	SynchroniserInterval time.Duration `yaml:"synchroniser_interval"`

	// DataLayerPollTimeout/Interval are loaded and defaulted here only; the
	// Worker Handles' data-layer task polling loop uses its own fixed
	// 300 s timeout and 1 s interval and does not read these fields.
	DataLayerPollTimeout  time.Duration `yaml:"data_layer_poll_timeout"`
	DataLayerPollInterval time.Duration `yaml:"data_layer_poll_interval"`

	// DeprovisionOnDelete gates the full-deprovisioning path in the
	// Deleting lifecycle state (an Open Question resolved in DESIGN.md).
	DeprovisionOnDelete bool `yaml:"deprovision_on_delete"`
}

// Load reads and parses a YAML config file, applying defaults afterward.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SynchroniserInterval == 0 {
		c.SynchroniserInterval = 30 * time.Second
	}
	if c.DataLayerPollTimeout == 0 {
		c.DataLayerPollTimeout = 300 * time.Second
	}
	if c.DataLayerPollInterval == 0 {
		c.DataLayerPollInterval = time.Second
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = 8080
	}
	if c.HealthPort == 0 {
		c.HealthPort = 8081
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.BlockStreamerAddr == "" {
		c.BlockStreamerAddr = "localhost:8080"
	}
}
