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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, "opmon_analyzer", cfg.Database.Postgres.Database)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "metrics.incidents.created", cfg.NATS.Subject)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 14400, cfg.Analyzer.CorrectorBufferTime)
	assert.Equal(t, 14400, cfg.Analyzer.IncidentExpirationTime)
	assert.Equal(t, 3, cfg.Analyzer.TrainingPeriodTime)
	assert.Equal(t, 0.9, cfg.Analyzer.FailedRequestRatioThreshold)
	assert.Equal(t, 12*time.Hour, cfg.Analyzer.TrainInterval)
	assert.Equal(t, 10*time.Minute, cfg.Analyzer.FindInterval)

	assert.Equal(t, -2000.0, cfg.Analyzer.TimeSyncLowerThresholds["requestNwDuration"])
	assert.Equal(t, -2000.0, cfg.Analyzer.TimeSyncLowerThresholds["responseNwDuration"])

	for _, metric := range []string{
		"request_count", "mean_request_size", "mean_response_size",
		"mean_client_duration", "mean_producer_duration",
	} {
		assert.Equal(t, 0.95, cfg.Analyzer.HistoricAveragesThresholds[metric], metric)
	}

	require.Len(t, cfg.Analyzer.HistoricModels, 2)
	assert.Equal(t, HistoricModelConfig{Timeunit: "hour_weekday", Mode: "update"}, cfg.Analyzer.HistoricModels[0])
	assert.Equal(t, HistoricModelConfig{Timeunit: "weekday", Mode: "update"}, cfg.Analyzer.HistoricModels[1])
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
database:
  postgres:
    host: db.internal
    password: secret
analyzer:
  failed_request_ratio_threshold: 0.8
  historic_models:
    - timeunit: monthday
      mode: retrain
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 0.8, cfg.Analyzer.FailedRequestRatioThreshold)
	require.Len(t, cfg.Analyzer.HistoricModels, 1)
	assert.Equal(t, HistoricModelConfig{Timeunit: "monthday", Mode: "retrain"}, cfg.Analyzer.HistoricModels[0])

	// Unset values keep their defaults.
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConnString(t *testing.T) {
	c := PostgresConfig{
		Host: "localhost", Port: 5432,
		User: "opmon", Password: "pw",
		Database: "opmon_analyzer", SSLMode: "disable",
	}
	assert.Equal(t,
		"postgres://opmon:pw@localhost:5432/opmon_analyzer?sslmode=disable",
		c.ConnString())
}

func TestLoadThresholds(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		path := write("ok.yaml", `
historic_averages_thresholds:
  request_count: 0.99
  mean_request_size: 0.9
`)
		thresholds, err := LoadThresholds(path)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{
			"request_count":     0.99,
			"mean_request_size": 0.9,
		}, thresholds)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		path := write("range.yaml", `
historic_averages_thresholds:
  request_count: 1.5
`)
		_, err := LoadThresholds(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request_count")
	})

	t.Run("empty map", func(t *testing.T) {
		path := write("empty.yaml", `historic_averages_thresholds: {}`)
		_, err := LoadThresholds(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadThresholds(filepath.Join(dir, "missing.yaml"))
		require.Error(t, err)
	})
}

func TestLoadThresholdsFileOverride(t *testing.T) {
	dir := t.TempDir()
	thresholdsPath := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(thresholdsPath, []byte(`
historic_averages_thresholds:
  request_count: 0.99
`), 0o600))

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
analyzer:
  thresholds_file: `+thresholdsPath+`
`), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"request_count": 0.99}, cfg.Analyzer.HistoricAveragesThresholds)
}
