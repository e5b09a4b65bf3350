package reconciler

// Context gives reconciler hooks access to the dispatch they run in.
type Context struct {
	// ID of the resource being reconciled.
	ID ResourceID

	// Events coalesced into this dispatch, oldest first.
	Events []Event

	// RetryAttempt is the number of consecutive failed dispatches before this one.
	RetryAttempt int

	registry *Registry
}

func newContext(scope ExecutionScope, registry *Registry) *Context {
	return &Context{
		ID:           scope.ID,
		Events:       scope.Events,
		RetryAttempt: scope.Attempt,
		registry:     registry,
	}
}

// IsRetry reports whether the previous dispatch failed.
func (c *Context) IsRetry() bool {
	return c.RetryAttempt > 0
}

// TriggeredBy reports whether an event from the named source is part of
// this dispatch.
func (c *Context) TriggeredBy(source string) bool {
	for _, e := range c.Events {
		if e.Source == source {
			return true
		}
	}
	return false
}

// RegisterEventSource registers src under name for the resource.
func (c *Context) RegisterEventSource(name string, src EventSource) error {
	return c.registry.Register(c.ID, name, src)
}

// RegisterEventSourceIfAbsent returns the source registered under name,
// building it with factory when none exists.
func (c *Context) RegisterEventSourceIfAbsent(name string, factory func() (EventSource, error)) (EventSource, error) {
	return c.registry.RegisterIfAbsent(c.ID, name, factory)
}

// DeregisterEventSource removes the source registered under name.
func (c *Context) DeregisterEventSource(name string) bool {
	_, ok := c.registry.Deregister(c.ID, name)
	return ok
}

// EventSources returns a snapshot of the sources registered for the resource.
func (c *Context) EventSources() map[string]EventSource {
	return c.registry.ListFor(c.ID)
}

// EventSource returns the source registered under name.
func (c *Context) EventSource(name string) (EventSource, bool) {
	src, ok := c.registry.ListFor(c.ID)[name]
	return src, ok
}
