package refine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.MaxSubtreeDepth)
	assert.Equal(t, 3, cfg.MinSubtreeDepth)
	assert.Equal(t, 2, cfg.MinNodeCount)
	assert.Equal(t, 0.05, cfg.MaxLoss)
	assert.Equal(t, time.Hour, cfg.TimeoutTotal.Std())
	assert.Equal(t, 2*time.Minute, cfg.CandidateTimeout.Std())
	assert.True(t, cfg.HybridizationEnabled)
	assert.Equal(t, OrderDepthDescending, cfg.Ordering)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
max_subtree_depth: 6
max_loss: 0.1
timeout_total: 90
candidate_timeout: 30s
hybridization_enabled: false
ordering: nodes-desc
parallelism: 4
variables: [x, y]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxSubtreeDepth)
	assert.Equal(t, 0.1, cfg.MaxLoss)
	// Bare numbers are seconds, strings are Go durations.
	assert.Equal(t, 90*time.Second, cfg.TimeoutTotal.Std())
	assert.Equal(t, 30*time.Second, cfg.CandidateTimeout.Std())
	assert.False(t, cfg.HybridizationEnabled)
	assert.Equal(t, OrderNodesDescending, cfg.Ordering)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, []string{"x", "y"}, cfg.Variables)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.MinSubtreeDepth)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "max_loss: 0.1\n")
	t.Setenv("REFINE_MAX_LOSS", "0.2")
	t.Setenv("REFINE_TIMEOUT_TOTAL", "45")
	t.Setenv("REFINE_ORDERING", "depth-asc")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.MaxLoss)
	assert.Equal(t, 45*time.Second, cfg.TimeoutTotal.Std())
	assert.Equal(t, OrderDepthAscending, cfg.Ordering)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero subtree depth", func(c *Config) { c.MaxSubtreeDepth = 0 }},
		{"negative max loss", func(c *Config) { c.MaxLoss = -0.1 }},
		{"max loss of one", func(c *Config) { c.MaxLoss = 1.0 }},
		{"zero total timeout", func(c *Config) { c.TimeoutTotal = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"unknown ordering", func(c *Config) { c.Ordering = "sideways" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
