package reconciler

import (
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/multierr"

	"steward/pkg/logging"
)

// EventHandler receives events produced by event sources.
type EventHandler interface {
	Submit(Event)
}

// EventSource produces events for resource instances.
//
// Start and Stop are called with the identity the source is active for;
// controller-wide sources receive AllResources. OnExecutionFinished is called
// after every dispatch of an identity the source is registered for, and for
// controller-wide sources after every dispatch of any identity. It is never
// called with a registry lock held, so it may submit events or register
// other sources.
type EventSource interface {
	SetEventHandler(EventHandler)
	Start(id ResourceID) error
	Stop(id ResourceID) error
	OnExecutionFinished(ExecutionOutcome)
}

// sourceSet holds the sources of one identity.
type sourceSet struct {
	mu      sync.Mutex
	sources map[string]EventSource

	// detached is set once the set was dropped from the registry table.
	detached bool
}

// Registry tracks the named event sources of every resource instance.
//
// The table lock only guards lookup and insertion of per-identity sets.
// Mutations of one identity's sources are serialized by that identity's own
// lock, so registrations for different identities never contend.
type Registry struct {
	handler EventHandler

	mu      sync.RWMutex
	entries map[ResourceID]*sourceSet

	controllerMu      sync.RWMutex
	controllerSources map[string]EventSource
}

// NewRegistry creates a registry whose sources submit events to handler.
func NewRegistry(handler EventHandler) *Registry {
	return &Registry{
		handler:           handler,
		entries:           make(map[ResourceID]*sourceSet),
		controllerSources: make(map[string]EventSource),
	}
}

// lockSet returns the locked set for id, creating it when needed.
func (r *Registry) lockSet(id ResourceID) *sourceSet {
	for {
		r.mu.Lock()
		set, ok := r.entries[id]
		if !ok {
			set = &sourceSet{sources: make(map[string]EventSource)}
			r.entries[id] = set
		}
		r.mu.Unlock()

		set.mu.Lock()
		if !set.detached {
			return set
		}
		// Lost a race with Cleanup; start over with a fresh set.
		set.mu.Unlock()
	}
}

// lookupSet returns the locked set for id, or nil when none exists.
func (r *Registry) lookupSet(id ResourceID) *sourceSet {
	r.mu.RLock()
	set, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	set.mu.Lock()
	if set.detached {
		set.mu.Unlock()
		return nil
	}
	return set
}

// detachLocked drops an empty set from the table. The caller holds set.mu.
func (r *Registry) detachLocked(id ResourceID, set *sourceSet) {
	set.detached = true
	r.mu.Lock()
	if r.entries[id] == set {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// Register adds src under name for id and starts it.
//
// It returns a *DuplicateSourceError when name is taken. If the source fails
// to start, the registration is rolled back and the start error returned.
func (r *Registry) Register(id ResourceID, name string, src EventSource) error {
	set := r.lockSet(id)
	defer set.mu.Unlock()

	return r.registerLocked(id, set, name, src)
}

func (r *Registry) registerLocked(id ResourceID, set *sourceSet, name string, src EventSource) error {
	if _, exists := set.sources[name]; exists {
		return &DuplicateSourceError{ID: id, Name: name}
	}

	set.sources[name] = src
	src.SetEventHandler(r.handler)
	if err := src.Start(id); err != nil {
		delete(set.sources, name)
		if len(set.sources) == 0 {
			r.detachLocked(id, set)
		}
		return fmt.Errorf("failed to start event source %q for %s: %w", name, id, err)
	}

	logging.Debug("Registry", "Registered event source %s for %s", name, id)
	return nil
}

// RegisterIfAbsent returns the source registered under name for id, or
// builds one with factory and registers it. The check and the construction
// happen under the identity's lock, so concurrent callers never construct
// twice.
func (r *Registry) RegisterIfAbsent(id ResourceID, name string, factory func() (EventSource, error)) (EventSource, error) {
	set := r.lockSet(id)
	defer set.mu.Unlock()

	if existing, ok := set.sources[name]; ok {
		return existing, nil
	}

	src, err := factory()
	if err != nil {
		if len(set.sources) == 0 {
			r.detachLocked(id, set)
		}
		return nil, fmt.Errorf("failed to build event source %q for %s: %w", name, id, err)
	}
	if err := r.registerLocked(id, set, name, src); err != nil {
		return nil, err
	}
	return src, nil
}

// Deregister removes and stops the source registered under name for id.
// It returns false when no such source exists.
func (r *Registry) Deregister(id ResourceID, name string) (EventSource, bool) {
	set := r.lookupSet(id)
	if set == nil {
		logging.Debug("Registry", "No event source %s registered for %s", name, id)
		return nil, false
	}

	src, ok := set.sources[name]
	if ok {
		delete(set.sources, name)
		if len(set.sources) == 0 {
			r.detachLocked(id, set)
		}
	}
	set.mu.Unlock()

	if !ok {
		logging.Debug("Registry", "No event source %s registered for %s", name, id)
		return nil, false
	}

	if err := src.Stop(id); err != nil {
		logging.Warn("Registry", "Failed to stop event source %s for %s: %v", name, id, err)
	}
	logging.Debug("Registry", "Deregistered event source %s for %s", name, id)
	return src, true
}

// ListFor returns a snapshot of the sources registered for id.
func (r *Registry) ListFor(id ResourceID) map[string]EventSource {
	result := make(map[string]EventSource)

	set := r.lookupSet(id)
	if set == nil {
		return result
	}
	for name, src := range set.sources {
		result[name] = src
	}
	set.mu.Unlock()

	return result
}

// Len returns the number of identities with at least one source.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// NotifyExecutionFinished fans outcome out to the sources of its identity and
// to every controller-wide source. No lock is held during the callbacks. A
// panicking source is logged and does not keep the others from being told.
func (r *Registry) NotifyExecutionFinished(outcome ExecutionOutcome) {
	var targets []namedSource

	if set := r.lookupSet(outcome.ID); set != nil {
		for name, src := range set.sources {
			targets = append(targets, namedSource{name: name, src: src})
		}
		set.mu.Unlock()
	}

	r.controllerMu.RLock()
	for name, src := range r.controllerSources {
		targets = append(targets, namedSource{name: name, src: src})
	}
	r.controllerMu.RUnlock()

	for _, t := range targets {
		notifySource(t, outcome)
	}
}

type namedSource struct {
	name string
	src  EventSource
}

func notifySource(t namedSource, outcome ExecutionOutcome) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("Registry", fmt.Errorf("%v", p), "Event source %q panicked in OnExecutionFinished for %s\n%s",
				t.name, outcome.ID, debug.Stack())
		}
	}()
	t.src.OnExecutionFinished(outcome)
}

// Cleanup stops and removes every source registered for id.
func (r *Registry) Cleanup(id ResourceID) error {
	set := r.lookupSet(id)
	if set == nil {
		return nil
	}

	sources := set.sources
	set.sources = make(map[string]EventSource)
	r.detachLocked(id, set)
	set.mu.Unlock()

	var err error
	for name, src := range sources {
		if stopErr := src.Stop(id); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stop %s: %w", name, stopErr))
		}
	}
	if err != nil {
		logging.Warn("Registry", "Cleanup of %s finished with errors: %v", id, err)
	} else {
		logging.Debug("Registry", "Cleaned up %d event sources for %s", len(sources), id)
	}
	return err
}

// RegisterControllerSource adds a source that serves every identity, such as
// the primary watch. It is started with AllResources.
func (r *Registry) RegisterControllerSource(name string, src EventSource) error {
	r.controllerMu.Lock()
	defer r.controllerMu.Unlock()

	if _, exists := r.controllerSources[name]; exists {
		return &DuplicateSourceError{ID: AllResources, Name: name}
	}

	src.SetEventHandler(r.handler)
	if err := src.Start(AllResources); err != nil {
		return fmt.Errorf("failed to start event source %q: %w", name, err)
	}
	r.controllerSources[name] = src

	logging.Debug("Registry", "Registered controller event source %s", name)
	return nil
}

// ControllerSources returns a snapshot of the controller-wide sources.
func (r *Registry) ControllerSources() map[string]EventSource {
	r.controllerMu.RLock()
	defer r.controllerMu.RUnlock()

	result := make(map[string]EventSource, len(r.controllerSources))
	for name, src := range r.controllerSources {
		result[name] = src
	}
	return result
}

// Stop stops every controller-wide and per-identity source.
func (r *Registry) Stop() error {
	r.controllerMu.Lock()
	controllerSources := r.controllerSources
	r.controllerSources = make(map[string]EventSource)
	r.controllerMu.Unlock()

	var err error
	for name, src := range controllerSources {
		if stopErr := src.Stop(AllResources); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stop %s: %w", name, stopErr))
		}
	}

	r.mu.RLock()
	ids := make([]ResourceID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		err = multierr.Append(err, r.Cleanup(id))
	}
	return err
}
