package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QUIZBANK_CONFIG", "")
	t.Setenv("ETL_FUZZY_THRESHOLD", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 90.0, cfg.ETL.FuzzyThreshold)
	assert.Equal(t, "jaro-winkler", cfg.ETL.SimilarityMetric)
	assert.Equal(t, cfg.AppEnv, cfg.LogMode)
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quizbank.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
etl:
  data_dir: /srv/quiz
  fuzzy_threshold: 85
  header_aliases:
    enonce: question
`), 0o644))

	t.Setenv("QUIZBANK_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("ETL_FUZZY_THRESHOLD", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTPAddr, "env wins over file")
	assert.Equal(t, "/srv/quiz", cfg.ETL.DataDir)
	assert.Equal(t, 85.0, cfg.ETL.FuzzyThreshold)
	assert.Equal(t, map[string]string{"enonce": "question"}, cfg.ETL.HeaderAliases)

	pc := PipelineConfig(cfg)
	assert.Equal(t, filepath.Join("/srv/quiz", "in"), pc.InboxDir)
	assert.Equal(t, filepath.Join("/srv/quiz", "treated"), pc.TreatedDir)
	assert.Equal(t, filepath.Join("/srv/quiz", "log"), pc.LogDir)
}

func TestLoadConfigRejectsThresholdOutOfRange(t *testing.T) {
	t.Setenv("QUIZBANK_CONFIG", "")
	t.Setenv("ETL_FUZZY_THRESHOLD", "150")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestBoolOrDefault(t *testing.T) {
	t.Setenv("CSRF_ENFORCED", "yes")
	assert.True(t, boolOrDefault("CSRF_ENFORCED", false))
	t.Setenv("CSRF_ENFORCED", "maybe")
	assert.False(t, boolOrDefault("CSRF_ENFORCED", false))
}
