package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
operator:
  namespaces: [team-a, team-b]
  metricsBindAddress: "0"
defaults:
  workers: 4
  maxBackoff: 2m
  reconcileTimeout: 45
controllers:
  configbundle:
    workers: 2
    resyncInterval: 30s
logging:
  level: debug
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"team-a", "team-b"}, cfg.Operator.Namespaces)
	assert.Equal(t, "0", cfg.Operator.MetricsBindAddress)
	assert.Equal(t, DefaultHealthBindAddress, cfg.Operator.HealthBindAddress, "unset fields keep their defaults")
	assert.Equal(t, 4, cfg.Defaults.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Defaults.MaxBackoff.Duration)
	assert.Equal(t, 45*time.Second, cfg.Defaults.ReconcileTimeout.Duration, "integers are seconds")
	assert.Equal(t, time.Second, cfg.Defaults.InitialBackoff.Duration)
	assert.Equal(t, "debug", cfg.Logging.Level)

	effective := cfg.For("configbundle")
	assert.Equal(t, 2, effective.Workers)
	assert.Equal(t, 30*time.Second, effective.ResyncInterval.Duration)
	assert.Equal(t, 2*time.Minute, effective.MaxBackoff.Duration)
	assert.Equal(t, DefaultFinalizerName, effective.FinalizerName)

	assert.Equal(t, cfg.Defaults, cfg.For("unknown"))
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: "operator: [unterminated\n"},
		{name: "unknown field", content: "operator:\n  namespace: default\n"},
		{name: "bad duration", content: "defaults:\n  maxBackoff: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := LoadConfig(dir)
			var collection *ConfigurationErrorCollection
			require.True(t, errors.As(err, &collection), "expected a ConfigurationErrorCollection, got %v", err)
			assert.Len(t, collection.GetErrorsByType("parse"), 1)
			assert.Equal(t, filepath.Join(dir, configFileName), collection.Errors[0].FilePath)
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
defaults:
  workers: -1
logging:
  level: loud
`)

	_, err := LoadConfig(dir)
	var collection *ConfigurationErrorCollection
	require.True(t, errors.As(err, &collection))
	assert.Equal(t, 2, collection.Count())
	assert.Contains(t, collection.GetDetailedReport(), "defaults.workers")
	assert.Contains(t, collection.GetDetailedReport(), "logging.level")
}

func TestLoadConfig_Unreadable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, configFileName), 0755))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
	var collection *ConfigurationErrorCollection
	assert.False(t, errors.As(err, &collection), "I/O errors are not configuration errors")
}

func TestDuration_RoundTrip(t *testing.T) {
	in := struct {
		Timeout Duration `yaml:"timeout"`
	}{Timeout: Duration{90 * time.Second}}

	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, "timeout: 1m30s\n", string(data))
}
