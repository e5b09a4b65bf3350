package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	"steward/pkg/logging"
)

const (
	// stripeCount is the number of lock stripes guarding per-identity state.
	stripeCount = 64

	// RequeueSource names the source of events the scheduler submits itself.
	RequeueSource = "requeue"
)

// DispatchFunc processes one execution scope.
type DispatchFunc func(ctx context.Context, scope ExecutionScope) DispatchControl

// ExecutionListener is told about every finished dispatch.
type ExecutionListener interface {
	NotifyExecutionFinished(ExecutionOutcome)
	Cleanup(id ResourceID) error
}

// processingState is the scheduler's record of one identity.
type processingState struct {
	phase  Phase
	buffer []Event

	// queued is set while the identity is handed to the executor and its
	// dispatch has not begun.
	queued bool

	timer       clock.Timer
	timerSeq    uint64
	nextRequeue time.Time

	attempt      int
	lastError    string
	lastDispatch time.Time
}

func (st *processingState) stopTimer() {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.timerSeq++
	st.nextRequeue = time.Time{}
}

type stripe struct {
	mu     sync.Mutex
	states map[ResourceID]*processingState
}

// Scheduler serializes dispatches per identity.
//
// At most one dispatch per identity is scheduled or executing at any time.
// Events arriving meanwhile are buffered and handed to the next dispatch as
// one batch. Identities are spread over lock stripes so submissions for
// different identities rarely contend.
type Scheduler struct {
	name     string
	clock    clock.WithDelayedExecution
	limiter  workqueue.TypedRateLimiter[ResourceID]
	executor *Executor
	dispatch DispatchFunc
	listener ExecutionListener
	metrics  *ReconcilerMetrics

	stripes [stripeCount]stripe

	ctx     context.Context
	started atomic.Bool
	stopped atomic.Bool
}

// SchedulerConfig holds the collaborators of a Scheduler.
type SchedulerConfig struct {
	// Name identifies the owning controller in logs and metrics.
	Name string

	// Clock drives requeue timers. Defaults to the real clock.
	Clock clock.WithDelayedExecution

	// InitialBackoff and MaxBackoff bound the failure delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Executor *Executor
	Dispatch DispatchFunc
	Metrics  *ReconcilerMetrics
}

// NewScheduler creates a scheduler. SetListener must be called before Start.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Executor == nil {
		cfg.Executor = NewExecutor(0)
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}

	s := &Scheduler{
		name:     cfg.Name,
		clock:    cfg.Clock,
		limiter:  workqueue.NewTypedItemExponentialFailureRateLimiter[ResourceID](cfg.InitialBackoff, cfg.MaxBackoff),
		executor: cfg.Executor,
		dispatch: cfg.Dispatch,
		metrics:  cfg.Metrics,
		ctx:      context.Background(),
	}
	for i := range s.stripes {
		s.stripes[i].states = make(map[ResourceID]*processingState)
	}
	return s
}

// SetListener sets the receiver of execution outcomes, usually the Registry.
func (s *Scheduler) SetListener(l ExecutionListener) {
	s.listener = l
}

// SetDispatch sets the function invoked for each execution scope.
func (s *Scheduler) SetDispatch(fn DispatchFunc) {
	s.dispatch = fn
}

func (s *Scheduler) stripeFor(id ResourceID) *stripe {
	h := xxhash.Sum64String(id.Namespace + "/" + id.Name + "/" + string(id.UID))
	return &s.stripes[h%stripeCount]
}

// Start begins dispatching. Identities submitted before Start are dispatched now.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.started.Store(true)

	for i := range s.stripes {
		st := &s.stripes[i]
		var ready []ResourceID
		st.mu.Lock()
		for id, state := range st.states {
			if state.phase == PhaseScheduled && !state.queued {
				state.queued = true
				ready = append(ready, id)
			}
		}
		st.mu.Unlock()

		for _, id := range ready {
			s.run(id)
		}
	}
	logging.Debug("Scheduler", "Scheduler for %s started", s.name)
}

// Stop cancels pending timers and ignores further submissions. In-flight
// dispatches run to completion.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for _, state := range st.states {
			state.stopTimer()
		}
		st.mu.Unlock()
	}
	logging.Debug("Scheduler", "Scheduler for %s stopped", s.name)
}

// Submit records an event. It never blocks beyond a short critical section.
func (s *Scheduler) Submit(e Event) {
	if s.stopped.Load() {
		logging.Debug("Scheduler", "Ignoring %s event for %s after stop", e.Type, e.ID)
		return
	}

	st := s.stripeFor(e.ID)
	st.mu.Lock()
	state, ok := st.states[e.ID]
	if !ok {
		state = &processingState{phase: PhaseIdle}
		st.states[e.ID] = state
	}

	schedule := false
	switch state.phase {
	case PhaseIdle:
		state.stopTimer()
		state.buffer = append(state.buffer[:0], e)
		state.phase = PhaseScheduled
		if s.started.Load() {
			state.queued = true
			schedule = true
		}
	default:
		state.buffer = coalesce(state.buffer, e)
		s.metrics.Coalesced(s.name)
	}
	st.mu.Unlock()

	if schedule {
		s.run(e.ID)
	}
}

// coalesce appends e to buffer. A delete supersedes buffered adds and
// updates, and adds or updates arriving after a buffered delete are dropped.
func coalesce(buffer []Event, e Event) []Event {
	switch e.Type {
	case EventDelete:
		kept := buffer[:0]
		for _, b := range buffer {
			if b.Type != EventAdd && b.Type != EventUpdate {
				kept = append(kept, b)
			}
		}
		return append(kept, e)
	case EventAdd, EventUpdate:
		for _, b := range buffer {
			if b.Type == EventDelete {
				return buffer
			}
		}
	}
	return append(buffer, e)
}

func (s *Scheduler) run(id ResourceID) {
	s.executor.Run(s.ctx, Unit{
		ID:       id,
		Begin:    func() (ExecutionScope, bool) { return s.begin(id) },
		Dispatch: s.timedDispatch,
		Finish:   s.finished,
		Abandon:  func() { s.abandon(id) },
	})
}

// abandon returns an identity whose dispatch never began to idle. Its
// buffered events are dropped with it.
func (s *Scheduler) abandon(id ResourceID) {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[id]
	if !ok || state.phase != PhaseScheduled || !state.queued {
		return
	}
	logging.Debug("Scheduler", "Dropped %d buffered events of %s", len(state.buffer), id)
	state.phase = PhaseIdle
	state.queued = false
	state.buffer = nil
}

// begin moves a scheduled identity to executing and takes its buffered events.
func (s *Scheduler) begin(id ResourceID) (ExecutionScope, bool) {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[id]
	if !ok || state.phase != PhaseScheduled {
		return ExecutionScope{}, false
	}

	state.phase = PhaseExecuting
	state.queued = false
	events := state.buffer
	state.buffer = nil

	return ExecutionScope{
		ID:      id,
		Events:  events,
		Attempt: s.limiter.NumRequeues(id),
	}, true
}

func (s *Scheduler) timedDispatch(ctx context.Context, scope ExecutionScope) DispatchControl {
	s.metrics.DispatchStarted(s.name)
	start := s.clock.Now()
	control := s.dispatch(ctx, scope)
	s.metrics.DispatchFinished(s.name, scope.ID, control, s.clock.Since(start))
	return control
}

// finished applies the control of a completed dispatch.
func (s *Scheduler) finished(scope ExecutionScope, control DispatchControl) {
	id := scope.ID
	st := s.stripeFor(id)

	st.mu.Lock()
	state, ok := st.states[id]
	if !ok {
		st.mu.Unlock()
		return
	}
	state.lastDispatch = s.clock.Now()
	if control.Err != nil {
		state.lastError = control.Err.Error()
	}

	if s.stopped.Load() {
		state.phase = PhaseIdle
		state.buffer = nil
		st.mu.Unlock()
		return
	}

	if control.Removed {
		state.stopTimer()
		delete(st.states, id)
		st.mu.Unlock()

		s.limiter.Forget(id)
		logging.Debug("Scheduler", "Released state of removed resource %s", id)
		if s.listener != nil {
			s.listener.NotifyExecutionFinished(ExecutionOutcome{ID: id, Control: control, Events: scope.Events})
			if err := s.listener.Cleanup(id); err != nil {
				logging.Warn("Scheduler", "Cleanup of %s failed: %v", id, err)
			}
		}
		return
	}

	schedule := false
	switch {
	case len(state.buffer) > 0:
		// Newer events supersede the decision of the dispatch that just ended.
		if control.Action == ActionFailed {
			s.limiter.When(id)
			state.attempt = s.limiter.NumRequeues(id)
		} else {
			s.limiter.Forget(id)
			state.attempt = 0
		}
		state.phase = PhaseScheduled
		state.queued = true
		schedule = true

	case control.Action == ActionRequeueImmediately:
		s.limiter.Forget(id)
		state.attempt = 0
		state.lastError = ""
		state.buffer = []Event{NewEvent(id, RequeueSource, EventGeneric, nil)}
		state.phase = PhaseScheduled
		state.queued = true
		schedule = true
		s.metrics.Requeued(s.name, ActionRequeueImmediately)

	case control.Action == ActionRequeueAfter:
		s.limiter.Forget(id)
		state.attempt = 0
		state.lastError = ""
		state.phase = PhaseIdle
		s.armTimer(id, state, control.Delay)
		s.metrics.Requeued(s.name, ActionRequeueAfter)

	case control.Action == ActionFailed:
		delay := s.limiter.When(id)
		state.attempt = s.limiter.NumRequeues(id)
		state.phase = PhaseIdle
		s.armTimer(id, state, delay)
		s.metrics.Requeued(s.name, ActionFailed)
		logging.Warn("Scheduler", "Dispatch of %s failed (attempt %d), retrying in %s: %v",
			id, state.attempt, delay, control.Err)

	default:
		s.limiter.Forget(id)
		state.attempt = 0
		state.lastError = ""
		state.phase = PhaseIdle
	}
	st.mu.Unlock()

	if schedule {
		s.run(id)
	}
	if s.listener != nil {
		s.listener.NotifyExecutionFinished(ExecutionOutcome{ID: id, Control: control, Events: scope.Events})
	}
}

// armTimer schedules a generic event for id after d. The caller holds the
// stripe lock. A timer is a no-op if the identity left the idle phase or a
// newer timer replaced it.
func (s *Scheduler) armTimer(id ResourceID, state *processingState, d time.Duration) {
	state.stopTimer()
	seq := state.timerSeq
	state.nextRequeue = s.clock.Now().Add(d)
	state.timer = s.clock.AfterFunc(d, func() {
		go s.fire(id, seq)
	})
}

func (s *Scheduler) fire(id ResourceID, seq uint64) {
	if s.stopped.Load() {
		return
	}

	st := s.stripeFor(id)
	st.mu.Lock()
	state, ok := st.states[id]
	if !ok || state.timerSeq != seq || state.phase != PhaseIdle {
		st.mu.Unlock()
		return
	}
	state.timer = nil
	st.mu.Unlock()

	s.Submit(NewEvent(id, RequeueSource, EventGeneric, nil))
}

// Status returns the scheduler's view of id.
func (s *Scheduler) Status(id ResourceID) (ResourceStatus, bool) {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	state, ok := st.states[id]
	if !ok {
		return ResourceStatus{}, false
	}
	return state.status(id), true
}

// Statuses returns the view of every tracked identity.
func (s *Scheduler) Statuses() []ResourceStatus {
	var result []ResourceStatus
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for id, state := range st.states {
			result = append(result, state.status(id))
		}
		st.mu.Unlock()
	}
	return result
}

func (st *processingState) status(id ResourceID) ResourceStatus {
	return ResourceStatus{
		ID:           id,
		Phase:        st.phase,
		Buffered:     len(st.buffer),
		Attempt:      st.attempt,
		LastError:    st.lastError,
		LastDispatch: st.lastDispatch,
		NextRequeue:  st.nextRequeue,
	}
}
