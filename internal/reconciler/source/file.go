package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/clock"

	"steward/internal/reconciler"
	"steward/pkg/logging"
)

// DefaultDebounce is the quiet period a File source waits for before it
// reports a change.
const DefaultDebounce = 500 * time.Millisecond

// File watches a single file for one identity and emits a Generic event
// when it is created, written, removed or renamed. Bursts of changes within
// the debounce interval produce one event.
//
// The parent directory is watched rather than the file, so editors that
// replace the file through a rename keep being observed.
type File struct {
	name     string
	path     string
	debounce time.Duration
	clock    clock.WithDelayedExecution

	mu      sync.Mutex
	handler reconciler.EventHandler
	id      reconciler.ResourceID
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	pending clock.Timer
	seq     uint64
}

// NewFile creates a file source for path. A zero debounce uses
// DefaultDebounce and a nil clk uses the real clock.
func NewFile(name, path string, debounce time.Duration, clk clock.WithDelayedExecution) *File {
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &File{
		name:     name,
		path:     filepath.Clean(path),
		debounce: debounce,
		clock:    clk,
	}
}

// Path returns the watched file.
func (f *File) Path() string {
	return f.path
}

// SetEventHandler implements reconciler.EventSource.
func (f *File) SetEventHandler(h reconciler.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Start begins watching the file on behalf of id.
func (f *File) Start(id reconciler.ResourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher for %s: %w", f.path, err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}

	f.id = id
	f.watcher = watcher
	f.stopCh = make(chan struct{})
	go f.processEvents(watcher, f.stopCh)

	logging.Debug("File", "Watching %s for %s", f.path, id)
	return nil
}

// Stop closes the watcher and drops a pending change.
func (f *File) Stop(reconciler.ResourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher == nil {
		return nil
	}
	close(f.stopCh)
	f.cancelPendingLocked()

	err := f.watcher.Close()
	f.watcher = nil
	if err != nil {
		return fmt.Errorf("failed to close watcher for %s: %w", f.path, err)
	}
	return nil
}

// OnExecutionFinished implements reconciler.EventSource.
func (f *File) OnExecutionFinished(reconciler.ExecutionOutcome) {}

func (f *File) processEvents(watcher *fsnotify.Watcher, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			f.schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("File", err, "Watcher error for %s", f.path)
		}
	}
}

// schedule restarts the debounce interval.
func (f *File) schedule() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher == nil {
		return
	}
	f.cancelPendingLocked()
	seq := f.seq
	f.pending = f.clock.AfterFunc(f.debounce, func() {
		go f.fire(seq)
	})
}

func (f *File) cancelPendingLocked() {
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	f.seq++
}

func (f *File) fire(seq uint64) {
	f.mu.Lock()
	if f.watcher == nil || seq != f.seq || f.handler == nil {
		f.mu.Unlock()
		return
	}
	f.pending = nil
	h, id := f.handler, f.id
	f.mu.Unlock()

	logging.Debug("File", "Change of %s reported for %s", f.path, id)
	h.Submit(reconciler.NewEvent(id, f.name, reconciler.EventGeneric, nil))
}

// ReadYAML decodes the YAML document at path into out. A missing file is
// returned as an error satisfying os.IsNotExist.
func ReadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

var _ reconciler.EventSource = (*File)(nil)
