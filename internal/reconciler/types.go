package reconciler

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ResourceID identifies one resource instance.
//
// The UID makes the key unique per incarnation: an object deleted and
// recreated under the same name is a different identity.
type ResourceID struct {
	// Namespace of the resource; empty for cluster-scoped kinds.
	Namespace string

	// Name of the resource.
	Name string

	// UID assigned by the API server.
	UID types.UID
}

// AllResources is the identity controller-wide sources are started with.
var AllResources = ResourceID{}

// IDFor returns the identity of obj.
func IDFor(obj client.Object) ResourceID {
	return ResourceID{
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
		UID:       obj.GetUID(),
	}
}

// NamespacedName returns the key used to fetch the resource.
func (id ResourceID) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Namespace: id.Namespace, Name: id.Name}
}

// String returns a human-readable representation used in logs.
func (id ResourceID) String() string {
	if id.Namespace == "" {
		return fmt.Sprintf("%s(%s)", id.Name, id.UID)
	}
	return fmt.Sprintf("%s/%s(%s)", id.Namespace, id.Name, id.UID)
}

// EventType describes what happened to a resource.
type EventType string

const (
	// EventAdd indicates a resource was observed for the first time.
	EventAdd EventType = "Add"

	// EventUpdate indicates a resource was modified.
	EventUpdate EventType = "Update"

	// EventDelete indicates a resource was removed.
	EventDelete EventType = "Delete"

	// EventGeneric is a trigger carrying no change information, such as a
	// timer firing or a requeue.
	EventGeneric EventType = "Generic"
)

// Event is a trigger for one resource instance. Events are immutable once
// submitted.
type Event struct {
	// ID of the resource the event is about.
	ID ResourceID

	// Source is the name of the event source that produced the event.
	Source string

	// Type of the event.
	Type EventType

	// Object is an optional snapshot of the resource at the time of the event.
	Object client.Object

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// NewEvent creates an event stamped with the current time.
func NewEvent(id ResourceID, source string, eventType EventType, obj client.Object) Event {
	return Event{
		ID:        id,
		Source:    source,
		Type:      eventType,
		Object:    obj,
		Timestamp: time.Now(),
	}
}

// ExecutionScope is the unit of work handed to the dispatcher.
type ExecutionScope struct {
	// ID of the resource being reconciled.
	ID ResourceID

	// Events that were coalesced into this dispatch, oldest first.
	Events []Event

	// Attempt is the number of consecutive failed dispatches before this one.
	Attempt int
}

// HasDelete reports whether the scope carries a delete event.
func (s ExecutionScope) HasDelete() bool {
	for _, e := range s.Events {
		if e.Type == EventDelete {
			return true
		}
	}
	return false
}

// LatestObject returns the most recent snapshot attached to the scope's events.
func (s ExecutionScope) LatestObject() client.Object {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].Object != nil {
			return s.Events[i].Object
		}
	}
	return nil
}

// Action is the decision the scheduler applies after a dispatch.
type Action int

const (
	// ActionDone settles the resource until the next event.
	ActionDone Action = iota

	// ActionRequeueAfter schedules a new dispatch after a delay.
	ActionRequeueAfter

	// ActionRequeueImmediately dispatches again right away.
	ActionRequeueImmediately

	// ActionFailed schedules a retry using exponential backoff.
	ActionFailed
)

// String returns the action name used in logs and metric labels.
func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRequeueAfter:
		return "requeue_after"
	case ActionRequeueImmediately:
		return "requeue"
	case ActionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DispatchControl is the outcome of one dispatch.
type DispatchControl struct {
	Action Action

	// Delay is set for ActionRequeueAfter.
	Delay time.Duration

	// Err is set for ActionFailed.
	Err error

	// Attempt is the attempt count the next dispatch will carry.
	Attempt int

	// Removed is set when the resource is gone from the cluster and all
	// per-identity state can be released.
	Removed bool
}

// Done returns a control that settles the resource.
func Done() DispatchControl {
	return DispatchControl{Action: ActionDone}
}

// RequeueAfter returns a control that dispatches again after d.
func RequeueAfter(d time.Duration) DispatchControl {
	return DispatchControl{Action: ActionRequeueAfter, Delay: d}
}

// RequeueImmediately returns a control that dispatches again right away.
func RequeueImmediately() DispatchControl {
	return DispatchControl{Action: ActionRequeueImmediately}
}

// Failed returns a control that retries with backoff.
func Failed(err error, nextAttempt int) DispatchControl {
	return DispatchControl{Action: ActionFailed, Err: err, Attempt: nextAttempt}
}

// Gone marks the control as belonging to a resource that no longer exists.
func (c DispatchControl) Gone() DispatchControl {
	c.Removed = true
	return c
}

// ExecutionOutcome is delivered to event sources after every dispatch.
type ExecutionOutcome struct {
	ID      ResourceID
	Control DispatchControl

	// Events that were processed by the dispatch.
	Events []Event
}

// Phase is the processing state of one identity inside the scheduler.
type Phase string

const (
	// PhaseIdle means no dispatch is running or queued.
	PhaseIdle Phase = "Idle"

	// PhaseScheduled means a dispatch was handed to the executor but has not started.
	PhaseScheduled Phase = "Scheduled"

	// PhaseExecuting means a dispatch is running.
	PhaseExecuting Phase = "Executing"
)

// ResourceStatus reports the scheduler's view of one identity.
type ResourceStatus struct {
	ID ResourceID

	// Phase is the current processing state.
	Phase Phase

	// Buffered is the number of events waiting for the next dispatch.
	Buffered int

	// Attempt is the number of consecutive failed dispatches.
	Attempt int

	// LastError is the message of the most recent failure, if any.
	LastError string

	// LastDispatch is when the most recent dispatch finished.
	LastDispatch time.Time

	// NextRequeue is when a pending timer will fire; zero when none is pending.
	NextRequeue time.Time
}

// FinalizerPolicy declares whether a reconciler needs a finalizer.
type FinalizerPolicy int

const (
	// FinalizerRequired makes the dispatcher add a finalizer before the first
	// CreateOrUpdate and remove it only after Delete allows it.
	FinalizerRequired FinalizerPolicy = iota

	// FinalizerNone never touches finalizers. Delete is invoked best-effort
	// when a lost instance is detected and a snapshot is available.
	FinalizerNone
)

// Options configures a Controller.
type Options struct {
	// Name identifies the controller in logs and metrics.
	Name string

	// FinalizerName is the finalizer managed for FinalizerRequired reconcilers.
	FinalizerName string

	// Workers bounds concurrent dispatches across identities.
	// Zero means unbounded.
	Workers int

	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the failure delay. Attempts themselves are never capped.
	MaxBackoff time.Duration

	// ReconcileTimeout bounds a single dispatch. Zero disables the timeout.
	ReconcileTimeout time.Duration
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.InitialBackoff == 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	return o
}
