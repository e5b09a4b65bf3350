// Package events records Kubernetes Events for steward resources, so that
// reconciliation results show up in `kubectl describe` and
// `kubectl get events`.
//
// Messages are rendered from text/template templates keyed by EventReason.
// Failure reasons produce Warning events, everything else Normal events.
//
// Usage:
//
//	generator := events.NewEventGenerator(recorder)
//	generator.ObjectEvent(bundle, events.ReasonConfigBundleSynced, events.EventData{
//		Target: "apps/app-config",
//		Keys:   3,
//	})
package events
