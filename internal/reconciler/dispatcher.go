package reconciler

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"steward/pkg/logging"
)

// Dispatcher invokes a Reconciler for one execution scope and drives the
// finalizer protocol around it.
type Dispatcher[T client.Object] struct {
	name       string
	client     client.Client
	reconciler Reconciler[T]
	prototype  T
	finalizer  string
	registry   *Registry
	timeout    time.Duration
}

// NewDispatcher creates a dispatcher. prototype is an empty object of the
// reconciled kind; it is copied for every fetch.
func NewDispatcher[T client.Object](c client.Client, r Reconciler[T], prototype T, registry *Registry, opts Options) *Dispatcher[T] {
	return &Dispatcher[T]{
		name:       opts.Name,
		client:     c,
		reconciler: r,
		prototype:  prototype,
		finalizer:  opts.FinalizerName,
		registry:   registry,
		timeout:    opts.ReconcileTimeout,
	}
}

func (d *Dispatcher[T]) newObject() T {
	return d.prototype.DeepCopyObject().(T)
}

// Handle processes scope and returns the decision for the scheduler.
// Every path returns a control; errors are reported as Failed.
func (d *Dispatcher[T]) Handle(ctx context.Context, scope ExecutionScope) DispatchControl {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	next := scope.Attempt + 1

	obj := d.newObject()
	if err := d.client.Get(ctx, scope.ID.NamespacedName(), obj); err != nil {
		if apierrors.IsNotFound(err) {
			return d.handleLost(ctx, scope, &LostInstanceError{ID: scope.ID})
		}
		return Failed(&ExternalCallError{ID: scope.ID, Operation: "get", Err: err}, next)
	}
	if scope.ID.UID != "" && obj.GetUID() != scope.ID.UID {
		return d.handleLost(ctx, scope, &LostInstanceError{ID: scope.ID, Replaced: true})
	}

	rctx := newContext(scope, d.registry)

	if !obj.GetDeletionTimestamp().IsZero() {
		return d.handleDeletion(ctx, scope, obj, rctx)
	}

	if d.reconciler.FinalizerPolicy() == FinalizerRequired && !controllerutil.ContainsFinalizer(obj, d.finalizer) {
		if _, err := addFinalizer(ctx, d.client, obj, d.finalizer); err != nil {
			return Failed(&ExternalCallError{ID: scope.ID, Operation: "add finalizer", Err: err}, next)
		}
		logging.Debug("Dispatcher", "Added finalizer %s to %s", d.finalizer, scope.ID)
	}

	control, err := d.reconciler.CreateOrUpdate(ctx, obj, rctx)
	if err != nil {
		return Failed(&ReconcilerError{ID: scope.ID, Hook: "CreateOrUpdate", Attempt: next, Err: err}, next)
	}

	switch control.kind {
	case updateResource:
		if err := d.client.Update(ctx, control.resource); err != nil {
			return Failed(&ExternalCallError{ID: scope.ID, Operation: "update", Err: err}, next)
		}
	case updateStatus:
		if err := d.client.Status().Update(ctx, control.resource); err != nil {
			return Failed(&ExternalCallError{ID: scope.ID, Operation: "update status", Err: err}, next)
		}
	}

	if control.requeueAfter > 0 {
		return RequeueAfter(control.requeueAfter)
	}
	return Done()
}

// handleDeletion runs the delete hook for a resource marked for deletion.
// The finalizer is only removed after the hook allows it.
func (d *Dispatcher[T]) handleDeletion(ctx context.Context, scope ExecutionScope, obj T, rctx *Context) DispatchControl {
	if !controllerutil.ContainsFinalizer(obj, d.finalizer) {
		return Done()
	}
	next := scope.Attempt + 1

	removable, err := d.reconciler.Delete(ctx, obj, rctx)
	if err != nil {
		return Failed(&ReconcilerError{ID: scope.ID, Hook: "Delete", Attempt: next, Err: err}, next)
	}
	if !removable {
		logging.Info("Dispatcher", "Delete of %s did not release finalizer %s", scope.ID, d.finalizer)
		return Done()
	}

	if _, err := removeFinalizer(ctx, d.client, obj, d.finalizer); err != nil {
		return Failed(&ExternalCallError{ID: scope.ID, Operation: "remove finalizer", Err: err}, next)
	}
	logging.Debug("Dispatcher", "Removed finalizer %s from %s", d.finalizer, scope.ID)

	if len(obj.GetFinalizers()) == 0 {
		return Done().Gone()
	}
	return Done()
}

// handleLost treats a resource that is gone, or replaced by a new instance,
// as deleted. Reconcilers without a finalizer get one best-effort Delete
// call with the last known snapshot.
func (d *Dispatcher[T]) handleLost(ctx context.Context, scope ExecutionScope, lost *LostInstanceError) DispatchControl {
	if !scope.HasDelete() {
		logging.Info("Dispatcher", "%v", lost)
	}

	if d.reconciler.FinalizerPolicy() == FinalizerNone {
		if snapshot, ok := scope.LatestObject().(T); ok {
			if _, err := d.reconciler.Delete(ctx, snapshot, newContext(scope, d.registry)); err != nil {
				logging.Warn("Dispatcher", "Best-effort delete of %s failed: %v", scope.ID, err)
			}
		}
	}
	return Done().Gone()
}
