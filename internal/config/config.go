// Package config provides configuration management for a meshfabric node.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration surface a node is constructed from.
//
// Field names mirror the configuration keys a host process hands to the
// core (bind_port, data_dir, declared_skills, ...). Load and LoadFromFile
// fill them from a YAML or JSON file, and FABRIC_* environment variables
// override some of them (see applyEnvironmentOverrides).
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	Node     NodeConfig     `yaml:"node" json:"node"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Anchor   AnchorConfig   `yaml:"anchor" json:"anchor"`
}

// NodeConfig carries the fields named in the external interfaces section:
// bind_port, data_dir, declared_skills[], enable_kademlia,
// enable_orchestrator, can_compute, trust_weight, task_default_timeout_s,
// relay_default_ttl.
type NodeConfig struct {
	BindPort             int           `yaml:"bind_port" json:"bind_port"`
	DataDir              string        `yaml:"data_dir" json:"data_dir"`
	DeclaredSkills       []string      `yaml:"declared_skills" json:"declared_skills"`
	EnableKademlia       bool          `yaml:"enable_kademlia" json:"enable_kademlia"`
	EnableOrchestrator   bool          `yaml:"enable_orchestrator" json:"enable_orchestrator"`
	CanCompute           bool          `yaml:"can_compute" json:"can_compute"`
	CanRelay             bool          `yaml:"can_relay" json:"can_relay"`
	CanStore             bool          `yaml:"can_store" json:"can_store"`
	TrustWeight          float64       `yaml:"trust_weight" json:"trust_weight"`
	TaskDefaultTimeoutS  int           `yaml:"task_default_timeout_s" json:"task_default_timeout_s"`
	RelayDefaultTTL      int           `yaml:"relay_default_ttl" json:"relay_default_ttl"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	GossipFanout         int           `yaml:"gossip_fanout" json:"gossip_fanout"`
	GossipInterval       time.Duration `yaml:"gossip_interval" json:"gossip_interval"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig controls the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// AnchorConfig controls the optional reputation checkpoint anchor.
type AnchorConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Backend      string        `yaml:"backend" json:"backend"` // "ethereum", "solana", "" (disabled)
	RPCEndpoint  string        `yaml:"rpc_endpoint" json:"rpc_endpoint"`
	Interval     time.Duration `yaml:"interval" json:"interval"`
	PrivateKeyEnv string       `yaml:"private_key_env" json:"private_key_env"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes configuration back out, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Node.BindPort == 0 {
		cfg.Node.BindPort = 7946
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = ".fabric/data"
	}
	if cfg.Node.TrustWeight == 0 {
		cfg.Node.TrustWeight = 0.3
	}
	if cfg.Node.TaskDefaultTimeoutS == 0 {
		cfg.Node.TaskDefaultTimeoutS = 30
	}
	if cfg.Node.RelayDefaultTTL == 0 {
		cfg.Node.RelayDefaultTTL = 10
	}
	if cfg.Node.HandshakeTimeout == 0 {
		cfg.Node.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Node.GossipFanout == 0 {
		cfg.Node.GossipFanout = 3
	}
	if cfg.Node.GossipInterval == 0 {
		cfg.Node.GossipInterval = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Anchor.Interval == 0 {
		cfg.Anchor.Interval = 10 * time.Minute
	}
}
