package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: staging
node:
  bind_port: 7777
  data_dir: /var/lib/fabric
  declared_skills:
    - image-classify
    - text-embed
  can_compute: true
  trust_weight: 0.4
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7777, cfg.Node.BindPort)
	assert.Equal(t, "/var/lib/fabric", cfg.Node.DataDir)
	assert.ElementsMatch(t, []string{"image-classify", "text-embed"}, cfg.Node.DeclaredSkills)
	assert.True(t, cfg.Node.CanCompute)
	assert.Equal(t, 0.4, cfg.Node.TrustWeight)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// defaults still apply where the file was silent
	assert.Equal(t, 10, cfg.Node.RelayDefaultTTL)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 7946, cfg.Node.BindPort)
	assert.Equal(t, 0.3, cfg.Node.TrustWeight)
	assert.Equal(t, 30, cfg.Node.TaskDefaultTimeoutS)
	assert.Equal(t, 10, cfg.Node.RelayDefaultTTL)
	assert.Equal(t, 3, cfg.Node.GossipFanout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "roundtrip.yaml")
	jsonPath := filepath.Join(tmpDir, "roundtrip.json")

	cfg := &Config{Environment: "production"}
	cfg.Node.BindPort = 8080
	cfg.Node.DeclaredSkills = []string{"render"}
	setDefaults(cfg)

	require.NoError(t, SaveToFile(cfg, yamlPath))
	require.NoError(t, SaveToFile(cfg, jsonPath))

	loaded, err := LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, 8080, loaded.Node.BindPort)
	assert.Equal(t, []string{"render"}, loaded.Node.DeclaredSkills)

	loadedJSON, err := LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "production", loadedJSON.Environment)
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("FABRIC_BIND_PORT", "9090")
	t.Setenv("FABRIC_CAN_COMPUTE", "true")
	t.Setenv("FABRIC_TRUST_WEIGHT", "0.75")
	t.Setenv("FABRIC_LOG_LEVEL", "warn")
	t.Setenv("FABRIC_METRICS_ENABLED", "true")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, 9090, cfg.Node.BindPort)
	assert.True(t, cfg.Node.CanCompute)
	assert.Equal(t, 0.75, cfg.Node.TrustWeight)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(LoaderOptions{ConfigDir: tmpDir, SkipEnvOverrides: true})
	require.NoError(t, err)
	assert.Equal(t, 7946, cfg.Node.BindPort)
}

func TestMustLoad_Succeeds(t *testing.T) {
	tmpDir := t.TempDir()
	assert.NotPanics(t, func() {
		cfg := MustLoad(LoaderOptions{ConfigDir: tmpDir, SkipEnvOverrides: true})
		assert.Equal(t, 7946, cfg.Node.BindPort)
	})
}
