package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DS_ANALYZER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Analysis.Health.HealthyThreshold)
	assert.Equal(t, 60.0, cfg.Analysis.Health.DegradedThreshold)
	assert.Equal(t, 6, cfg.Analysis.MaxResults)
	assert.Equal(t, int64(42), cfg.Analysis.Forest.Seed)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  health:
    healthyThreshold: 95
    degradedThreshold: 70
  maxResults: 4
llm:
  timeout: 5s
`), 0o644))

	t.Setenv("DS_ANALYZER_LLM_MODEL", "test-model")
	t.Setenv("DS_ANALYZER_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 95.0, cfg.Analysis.Health.HealthyThreshold)
	assert.Equal(t, 70.0, cfg.Analysis.Health.DegradedThreshold)
	assert.Equal(t, 4, cfg.Analysis.MaxResults)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.KafkaBrokers)
	// untouched sections keep defaults
	assert.Equal(t, 2, cfg.Analysis.MinBatchSize)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  health:
    healthyThreshold: 50
    degradedThreshold: 80
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "ds-analyzer.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "configs/knowledge.yaml", cfg.Knowledge.CorpusPath)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, 32, cfg.Analysis.MaxFiles)
	assert.Equal(t, 0.62, cfg.Analysis.AnomalyThreshold)
}
