package formatting

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"steward/internal/config"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatTable, "table": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short", input: "abc", maxLen: 10, want: "abc"},
		{name: "exact", input: "abcdef", maxLen: 6, want: "abcdef"},
		{name: "cut", input: "abcdefgh", maxLen: 6, want: "abc..."},
		{name: "multiline collapsed", input: "line one\n\tline  two", maxLen: 60, want: "line one line two"},
		{name: "runes", input: "héllo wörld", maxLen: 8, want: "héllo..."},
		{name: "tiny max is clamped", input: "abcdef", maxLen: 1, want: "a..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxLen))
		})
	}
}

func TestEffectiveSettings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Controllers = map[string]config.ControllerConfig{
		"secrets": {Workers: 2},
	}

	settings := EffectiveSettings(cfg, "configbundle")
	require.Len(t, settings, 2)
	assert.Equal(t, "configbundle", settings[0].Name)
	assert.Equal(t, cfg.Defaults.Workers, settings[0].Workers)
	assert.Equal(t, "secrets", settings[1].Name)
	assert.Equal(t, 2, settings[1].Workers)
	assert.Equal(t, 5*time.Minute, settings[1].MaxBackoff)
}

func TestPrinterControllersTable(t *testing.T) {
	var buf bytes.Buffer
	settings := []ControllerSettings{{
		Name:           "configbundle",
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		FinalizerName:  config.DefaultFinalizerName,
	}}

	require.NoError(t, NewPrinter(&buf, Options{}).Controllers(settings))
	out := buf.String()
	assert.Contains(t, out, "configbundle")
	assert.Contains(t, out, "unbounded")
	assert.Contains(t, out, "1s..1m0s")
	assert.Contains(t, out, config.DefaultFinalizerName)
}

func TestPrinterControllersJSON(t *testing.T) {
	var buf bytes.Buffer
	settings := []ControllerSettings{{Name: "configbundle", Workers: 3}}

	require.NoError(t, NewPrinter(&buf, Options{Format: FormatJSON}).Controllers(settings))

	var decoded []ControllerSettings
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, settings, decoded)
}

func TestPrinterConfigMap(t *testing.T) {
	cm := &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{Namespace: "apps", Name: "app"},
		Data:       map[string]string{"B": "2", "A": strings.Repeat("x", 100)},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, Options{}).ConfigMap(cm))
	out := buf.String()
	assert.Contains(t, out, "apps/app")
	assert.Contains(t, out, strings.Repeat("x", DefaultValueMaxLen-3)+"...")
	assert.Less(t, strings.Index(out, " A "), strings.Index(out, " B "), "keys are sorted")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, Options{Format: FormatYAML}).ConfigMap(cm))
	assert.Contains(t, buf.String(), "kind: ConfigMap")
	assert.Contains(t, buf.String(), "namespace: apps")
	assert.Contains(t, buf.String(), "B: \"2\"")
}
