package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"

	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
)

func TestRenderDefaultTemplates(t *testing.T) {
	engine := NewMessageTemplateEngine()

	tests := []struct {
		name   string
		reason EventReason
		data   EventData
		want   string
	}{
		{
			name:   "synced",
			reason: ReasonConfigBundleSynced,
			data:   EventData{Name: "app", Target: "apps/app", Keys: 3},
			want:   "ConfigBundle app wrote 3 keys to ConfigMap apps/app",
		},
		{
			name:   "failure with error",
			reason: ReasonConfigBundleSyncFailed,
			data:   EventData{Name: "app", Error: "boom"},
			want:   "ConfigBundle app could not be synced: boom",
		},
		{
			name:   "failure without error",
			reason: ReasonConfigBundleSyncFailed,
			data:   EventData{Name: "app"},
			want:   "ConfigBundle app could not be synced",
		},
		{
			name:   "unknown reason",
			reason: EventReason("Other"),
			data:   EventData{Name: "app", Namespace: "default"},
			want:   "Event: Other for default/app",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Render(tt.reason, tt.data))
		})
	}
}

func TestSetTemplate(t *testing.T) {
	engine := NewMessageTemplateEngine()
	require.NoError(t, engine.SetTemplate(ReasonConfigBundleCleanedUp, "gone: {{.Target}}"))
	assert.Equal(t, "gone: apps/app", engine.Render(ReasonConfigBundleCleanedUp, EventData{Target: "apps/app"}))

	assert.Error(t, engine.SetTemplate(ReasonConfigBundleCleanedUp, "{{.Target"))
}

func TestObjectEvent(t *testing.T) {
	recorder := record.NewFakeRecorder(10)
	generator := NewEventGenerator(recorder)
	bundle := &stewardv1alpha1.ConfigBundle{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "app"}}

	generator.ObjectEvent(bundle, ReasonConfigBundleSynced, EventData{Target: "default/app", Keys: 1})
	generator.ObjectEvent(bundle, ReasonConfigBundleConflict, EventData{Target: "default/app"})

	assert.Equal(t, "Normal ConfigBundleSynced ConfigBundle app wrote 1 keys to ConfigMap default/app", <-recorder.Events)
	assert.Equal(t, "Warning ConfigBundleConflict ConfigMap default/app is owned by another ConfigBundle", <-recorder.Events)
}

func TestNilGeneratorDropsEvents(t *testing.T) {
	var generator *EventGenerator
	bundle := &stewardv1alpha1.ConfigBundle{}
	assert.NotPanics(t, func() {
		generator.ObjectEvent(bundle, ReasonConfigBundleSynced, EventData{})
	})
}
