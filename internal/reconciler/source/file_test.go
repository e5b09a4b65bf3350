package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/reconciler"
)

func TestFileEmitsDebouncedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	events := &collector{}
	id := reconciler.ResourceID{Namespace: "default", Name: "a", UID: "a-uid"}
	file := NewFile("file", path, 50*time.Millisecond, nil)
	file.SetEventHandler(events)
	require.NoError(t, file.Start(id))
	defer func() { _ = file.Stop(id) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))
	}

	require.Eventually(t, func() bool { return events.count() >= 1 }, waitFor, tick)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, events.count(), "a burst of writes is reported once")

	got := events.snapshot()[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "file", got.Source)
	assert.Equal(t, reconciler.EventGeneric, got.Type)
}

func TestFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.yaml")

	events := &collector{}
	id := reconciler.ResourceID{Namespace: "default", Name: "a", UID: "a-uid"}
	file := NewFile("file", path, 20*time.Millisecond, nil)
	file.SetEventHandler(events)
	require.NoError(t, file.Start(id))
	defer func() { _ = file.Stop(id) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, events.count())

	// The file does not need to exist when the watch starts.
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))
	require.Eventually(t, func() bool { return events.count() == 1 }, waitFor, tick)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return events.count() == 2 }, waitFor, tick)
}

func TestFileStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.yaml")

	events := &collector{}
	id := reconciler.ResourceID{Namespace: "default", Name: "a", UID: "a-uid"}
	file := NewFile("file", path, 20*time.Millisecond, nil)
	file.SetEventHandler(events)
	require.NoError(t, file.Start(id))

	require.NoError(t, file.Stop(id))
	require.NoError(t, file.Stop(id), "Stop is idempotent")

	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, events.count())
}

func TestFileStartMissingDirectory(t *testing.T) {
	file := NewFile("file", filepath.Join(t.TempDir(), "missing", "values.yaml"), 0, nil)
	assert.Error(t, file.Start(reconciler.ResourceID{Name: "a"}))
	assert.Equal(t, DefaultDebounce, file.debounce)
}

func TestReadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: db\nport: \"5432\"\n"), 0o644))

	var values map[string]string
	require.NoError(t, ReadYAML(path, &values))
	assert.Equal(t, map[string]string{"host": "db", "port": "5432"}, values)

	err := ReadYAML(filepath.Join(dir, "missing.yaml"), &values)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, []byte("host: [unterminated\n"), 0o644))
	assert.Error(t, ReadYAML(path, &values))
}
