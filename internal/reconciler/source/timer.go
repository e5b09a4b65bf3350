package source

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"steward/internal/reconciler"
	"steward/pkg/logging"
)

// Timer is a per-identity resync source. It emits one Generic event after
// Interval and is rearmed whenever a dispatch of its identity finishes, so
// a resource is revisited at most Interval after it was last processed.
type Timer struct {
	name     string
	interval time.Duration
	clock    clock.WithDelayedExecution

	mu      sync.Mutex
	handler reconciler.EventHandler
	id      reconciler.ResourceID
	timer   clock.Timer
	seq     uint64
	running bool
}

// NewTimer creates a resync timer. A nil clk uses the real clock.
func NewTimer(name string, interval time.Duration, clk clock.WithDelayedExecution) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Timer{name: name, interval: interval, clock: clk}
}

// Interval returns the resync interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// SetEventHandler implements reconciler.EventSource.
func (t *Timer) SetEventHandler(h reconciler.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Start arms the timer for id.
func (t *Timer) Start(id reconciler.ResourceID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.id = id
	t.running = true
	t.armLocked()
	return nil
}

// Stop cancels the pending tick.
func (t *Timer) Stop(reconciler.ResourceID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.running = false
	t.disarmLocked()
	return nil
}

// OnExecutionFinished restarts the interval.
func (t *Timer) OnExecutionFinished(outcome reconciler.ExecutionOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || outcome.ID != t.id || outcome.Control.Removed {
		return
	}
	t.armLocked()
}

func (t *Timer) armLocked() {
	t.disarmLocked()
	if t.interval <= 0 {
		return
	}
	seq := t.seq
	t.timer = t.clock.AfterFunc(t.interval, func() {
		go t.fire(seq)
	})
}

func (t *Timer) disarmLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

func (t *Timer) fire(seq uint64) {
	t.mu.Lock()
	if !t.running || seq != t.seq || t.handler == nil {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	h, id := t.handler, t.id
	t.mu.Unlock()

	logging.Debug("Timer", "Resync %q fired for %s", t.name, id)
	h.Submit(reconciler.NewEvent(id, t.name, reconciler.EventGeneric, nil))
}

var _ reconciler.EventSource = (*Timer)(nil)
