// Package reconciler provides the event-to-reconciliation pipeline of steward.
//
// # Overview
//
// A Controller turns events about resource instances into calls to a
// user-supplied Reconciler. It guarantees that at most one dispatch per
// resource instance runs at any time while instances are processed in
// parallel, that events arriving during a dispatch are coalesced into a
// single follow-up, and that delete hooks are never skipped while a
// finalizer protects the resource.
//
// # Architecture
//
//   - EventSource: anything that produces events for a resource, such as
//     the primary watch, secondary watches, timers or file triggers
//   - Registry: named event sources per resource instance, plus
//     controller-wide sources
//   - Scheduler: per-instance state machine (Idle, Scheduled, Executing)
//     with event buffering, requeue timers and exponential backoff
//   - Dispatcher: fetches the resource, runs the finalizer protocol and the
//     reconciler hooks, and maps the result to a DispatchControl
//   - Executor: runs dispatches on goroutines, optionally bounded, and
//     turns panics into failures
//
// Data flows as follows:
//
//	EventSource -> Scheduler.Submit -> Executor -> Dispatcher.Handle
//	    -> DispatchControl -> Scheduler.finished -> Registry.NotifyExecutionFinished
//
// # Usage
//
//	ctrl, err := reconciler.NewController(client, myReconciler, &v1alpha1.ConfigBundle{},
//	    reconciler.Options{Name: "configbundle", FinalizerName: v1alpha1.ConfigBundleFinalizer},
//	    reconciler.ControllerConfig{Metrics: metrics})
//	if err != nil {
//	    return err
//	}
//	if err := ctrl.Watch("primary", informerSource); err != nil {
//	    return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
//
// # Dispatch Controls
//
//   - Done: settle until the next event
//   - RequeueAfter: dispatch again after a delay
//   - RequeueImmediately: dispatch again right away
//   - Failed: retry after an exponential backoff capped at MaxBackoff;
//     attempts are never capped
//
// Buffered events always win over the control of the dispatch that just
// finished: the next dispatch starts immediately.
//
// # Concurrency
//
// Scheduler state is kept in lock stripes selected by hashing the resource
// identity. Registry mutations are serialized per identity. No lock is held
// while a reconciler hook or an event source callback runs, so sources may
// submit events from OnExecutionFinished.
package reconciler
