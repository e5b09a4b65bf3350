package reconciler

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Reconciler is the user-supplied logic for one resource kind.
type Reconciler[T client.Object] interface {
	// CreateOrUpdate drives the cluster towards the state described by
	// resource. It is called with a freshly fetched copy of the resource.
	CreateOrUpdate(ctx context.Context, resource T, rctx *Context) (UpdateControl[T], error)

	// Delete cleans up after resource. Returning true allows the finalizer to
	// be removed; false keeps it in place until a later dispatch.
	Delete(ctx context.Context, resource T, rctx *Context) (bool, error)

	// FinalizerPolicy declares whether the resource needs a finalizer.
	FinalizerPolicy() FinalizerPolicy
}

type updateKind int

const (
	updateNone updateKind = iota
	updateResource
	updateStatus
)

// UpdateControl is the decision returned by CreateOrUpdate.
type UpdateControl[T client.Object] struct {
	kind         updateKind
	resource     T
	requeueAfter time.Duration
}

// NoUpdate requests no write.
func NoUpdate[T client.Object]() UpdateControl[T] {
	return UpdateControl[T]{kind: updateNone}
}

// UpdateResource requests an update of resource.
func UpdateResource[T client.Object](resource T) UpdateControl[T] {
	return UpdateControl[T]{kind: updateResource, resource: resource}
}

// UpdateStatus requests an update of the status subresource of resource.
func UpdateStatus[T client.Object](resource T) UpdateControl[T] {
	return UpdateControl[T]{kind: updateStatus, resource: resource}
}

// RequeueAfter returns a copy of c that schedules another dispatch after d.
func (c UpdateControl[T]) RequeueAfter(d time.Duration) UpdateControl[T] {
	c.requeueAfter = d
	return c
}

// RequeueDelay returns the requested requeue delay, zero when none.
func (c UpdateControl[T]) RequeueDelay() time.Duration {
	return c.requeueAfter
}

// IsNoUpdate reports whether no write was requested.
func (c UpdateControl[T]) IsNoUpdate() bool {
	return c.kind == updateNone
}

// IsStatusUpdate reports whether a status update was requested.
func (c UpdateControl[T]) IsStatusUpdate() bool {
	return c.kind == updateStatus
}
