package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/config"
)

func runCheckIn(t *testing.T, dir string, printConfig bool) (string, error) {
	t.Helper()
	checkConfigPath, checkPrint = dir, printConfig
	t.Cleanup(func() { checkConfigPath, checkPrint = "", false })

	var buf bytes.Buffer
	checkCmd.SetOut(&buf)
	t.Cleanup(func() { checkCmd.SetOut(nil) })

	err := runCheck(checkCmd, nil)
	return buf.String(), err
}

func TestCheckPrintsConfig(t *testing.T) {
	out, err := runCheckIn(t, t.TempDir(), true)
	require.NoError(t, err)
	assert.NotContains(t, out, "is valid", "--print output stays plain YAML")
	assert.Contains(t, out, "finalizerName: "+config.DefaultFinalizerName)
	assert.Contains(t, out, "maxBackoff: 5m0s")
}

func TestCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("logging:\n  level: chatty\n"), 0644))

	out, err := runCheckIn(t, dir, false)
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, ExitCodeConfigError, getExitCode(err))
}

func TestCheckListsControllers(t *testing.T) {
	out, err := runCheckIn(t, t.TempDir(), false)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "configbundle")
	assert.Contains(t, out, "1s..5m0s")
}
