package events

import (
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"steward/pkg/logging"
)

// EventGenerator records Kubernetes Events with templated messages.
// A nil *EventGenerator drops every event.
type EventGenerator struct {
	recorder  record.EventRecorder
	templates *MessageTemplateEngine
}

// NewEventGenerator creates a generator writing through recorder.
func NewEventGenerator(recorder record.EventRecorder) *EventGenerator {
	return &EventGenerator{
		recorder:  recorder,
		templates: NewMessageTemplateEngine(),
	}
}

// ObjectEvent records an event for obj. Name and Namespace in data are
// taken from obj.
func (g *EventGenerator) ObjectEvent(obj client.Object, reason EventReason, data EventData) {
	if g == nil || g.recorder == nil {
		return
	}

	data.Name = obj.GetName()
	data.Namespace = obj.GetNamespace()

	message := g.templates.Render(reason, data)
	eventType := string(getEventType(reason))

	logging.Debug("events", "Recording event: reason=%s, message=%s, type=%s",
		string(reason), message, eventType)

	g.recorder.Event(obj, eventType, string(reason), message)
}

// SetTemplate allows customizing the message template for a specific event reason.
func (g *EventGenerator) SetTemplate(reason EventReason, template string) error {
	return g.templates.SetTemplate(reason, template)
}
