package events

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// MessageTemplateEngine provides dynamic message generation for events.
type MessageTemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventReason]*template.Template
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[EventReason]*template.Template),
	}
	engine.loadDefaultTemplates()
	return engine
}

var defaultTemplates = map[EventReason]string{
	ReasonConfigBundleSynced:     "ConfigBundle {{.Name}} wrote {{.Keys}} keys to ConfigMap {{.Target}}",
	ReasonConfigBundleSyncFailed: "ConfigBundle {{.Name}} could not be synced{{if .Error}}: {{.Error}}{{end}}",
	ReasonConfigBundleConflict:   "ConfigMap {{.Target}} is owned by another ConfigBundle",
	ReasonConfigBundleCleanedUp:  "ConfigMap {{.Target}} removed for ConfigBundle {{.Name}}",
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	for reason, text := range defaultTemplates {
		if err := e.SetTemplate(reason, text); err != nil {
			panic(fmt.Sprintf("invalid default template for %s: %v", reason, err))
		}
	}
}

// SetTemplate replaces the message template for reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, text string) error {
	tmpl, err := template.New(string(reason)).Option("missingkey=zero").Parse(text)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[reason] = tmpl
	return nil
}

// Render generates a message for the given event reason and data.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	e.mu.RLock()
	tmpl, exists := e.templates[reason]
	e.mu.RUnlock()

	if !exists {
		return fmt.Sprintf("Event: %s for %s/%s", string(reason), data.Namespace, data.Name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Event: %s for %s/%s", string(reason), data.Namespace, data.Name)
	}
	return buf.String()
}
