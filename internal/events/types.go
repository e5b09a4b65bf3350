package events

// EventType represents the type/severity of a Kubernetes Event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

// ConfigBundle event reasons
const (
	// ReasonConfigBundleSynced indicates the ConfigMap was written.
	ReasonConfigBundleSynced EventReason = "ConfigBundleSynced"

	// ReasonConfigBundleSyncFailed indicates the ConfigMap could not be rendered or written.
	ReasonConfigBundleSyncFailed EventReason = "ConfigBundleSyncFailed"

	// ReasonConfigBundleConflict indicates the target ConfigMap belongs to another bundle.
	ReasonConfigBundleConflict EventReason = "ConfigBundleConflict"

	// ReasonConfigBundleCleanedUp indicates the ConfigMap was removed ahead of deletion.
	ReasonConfigBundleCleanedUp EventReason = "ConfigBundleCleanedUp"
)

// EventData contains the values substituted into event messages.
type EventData struct {
	// Name is the name of the involved object.
	Name string

	// Namespace is the namespace of the involved object.
	Namespace string

	// Target is the namespace/name of the generated ConfigMap.
	Target string

	// Keys is the number of keys written.
	Keys int

	// Error contains error information for failure events.
	Error string
}

// getEventType returns the appropriate EventType for a given EventReason.
func getEventType(reason EventReason) EventType {
	switch reason {
	case ReasonConfigBundleSyncFailed,
		ReasonConfigBundleConflict:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
