package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config).
	ConfigDir string
	// Environment overrides automatic environment detection.
	Environment string
	// SkipEnvOverrides disables the FABRIC_*-prefixed environment overrides.
	SkipEnvOverrides bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{ConfigDir: "config"}
}

// GetEnvironment returns the detected deployment environment.
func GetEnvironment() string {
	if env := os.Getenv("FABRIC_ENV"); env != "" {
		return env
	}
	return "development"
}

// Load loads configuration with automatic environment detection, falling
// back through env.yaml -> default.yaml -> config.yaml -> built-in
// defaults, then layering FABRIC_*-prefixed environment overrides on top.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvOverrides {
		applyEnvironmentOverrides(cfg)
	}

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides layers FABRIC_*-prefixed environment variables
// on top of a loaded config, highest priority wins.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("FABRIC_BIND_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.BindPort = n
		}
	}
	if v := os.Getenv("FABRIC_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("FABRIC_CAN_COMPUTE"); v != "" {
		cfg.Node.CanCompute = v == "true"
	}
	if v := os.Getenv("FABRIC_TRUST_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Node.TrustWeight = f
		}
	}
	if v := os.Getenv("FABRIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FABRIC_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if os.Getenv("FABRIC_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("FABRIC_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
	if v := os.Getenv("FABRIC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("FABRIC_ANCHOR_BACKEND"); v != "" {
		cfg.Anchor.Backend = v
		cfg.Anchor.Enabled = true
	}
	if v := os.Getenv("FABRIC_ANCHOR_RPC"); v != "" {
		cfg.Anchor.RPCEndpoint = v
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{ConfigDir: "config", Environment: environment})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
