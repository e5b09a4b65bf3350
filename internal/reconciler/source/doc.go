// Package source provides the event sources used by steward controllers.
//
// Every source implements reconciler.EventSource:
//
//   - Informer watches a kind through a controller-runtime informer. As the
//     primary watch of a controller it emits Add, Update and Delete events for
//     the reconciled resources. With a MapFunc it becomes a secondary watch
//     that emits Generic events for the owners of the watched objects.
//   - Timer emits a Generic event for one resource after a fixed interval
//     and is rearmed after every dispatch of that resource.
//   - File watches one file with fsnotify on behalf of a resource.
//   - Channel forwards identities from a Go channel or from Trigger.
//
// Informer and Channel are registered controller-wide with
// Controller.Watch. Timer and File are registered per resource from inside
// a reconciler through the reconciler.Context.
package source
