package source

import (
	"sync"

	"steward/internal/reconciler"
	"steward/pkg/logging"
)

// Channel turns identities received from a Go channel, or passed to
// Trigger, into Generic events. It is usually registered controller-wide
// to let external systems request reconciliation.
type Channel struct {
	name string
	in   <-chan reconciler.ResourceID

	mu      sync.Mutex
	handler reconciler.EventHandler
	stopCh  chan struct{}
	done    chan struct{}
}

// NewChannel creates a channel source. in may be nil when only Trigger is used.
func NewChannel(name string, in <-chan reconciler.ResourceID) *Channel {
	return &Channel{name: name, in: in}
}

// SetEventHandler implements reconciler.EventSource.
func (c *Channel) SetEventHandler(h reconciler.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start begins forwarding identities from the input channel.
func (c *Channel) Start(reconciler.ResourceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return nil
	}
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.forward(c.in, c.stopCh, c.done)
	return nil
}

// Stop ends forwarding and waits for the forwarding goroutine.
func (c *Channel) Stop(reconciler.ResourceID) error {
	c.mu.Lock()
	stopCh, done := c.stopCh, c.done
	c.stopCh, c.done = nil, nil
	c.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-done
	return nil
}

// OnExecutionFinished implements reconciler.EventSource.
func (c *Channel) OnExecutionFinished(reconciler.ExecutionOutcome) {}

// Trigger submits a Generic event for id. It is ignored while stopped.
func (c *Channel) Trigger(id reconciler.ResourceID) {
	c.mu.Lock()
	h := c.handler
	running := c.stopCh != nil
	c.mu.Unlock()

	if !running || h == nil {
		logging.Debug("Channel", "Ignoring trigger for %s on stopped source %q", id, c.name)
		return
	}
	h.Submit(reconciler.NewEvent(id, c.name, reconciler.EventGeneric, nil))
}

func (c *Channel) forward(in <-chan reconciler.ResourceID, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if in == nil {
		<-stopCh
		return
	}
	for {
		select {
		case <-stopCh:
			return
		case id, ok := <-in:
			if !ok {
				logging.Debug("Channel", "Input of %q closed", c.name)
				<-stopCh
				return
			}
			c.Trigger(id)
		}
	}
}

var _ reconciler.EventSource = (*Channel)(nil)
