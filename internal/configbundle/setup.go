package configbundle

import (
	corev1 "k8s.io/api/core/v1"

	"steward/internal/events"
	"steward/internal/operator"
	"steward/internal/reconciler"
	"steward/internal/reconciler/source"
	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
)

// ConfigMapSource is the controller-wide watch on generated ConfigMaps.
const ConfigMapSource = "configmaps"

// Setup registers the ConfigBundle controller with op. Generated ConfigMaps
// are watched so that out-of-band edits are reverted, and opts.Triggers is
// watched as TriggerSource.
func Setup(op *operator.Operator, opts Options) (*reconciler.Controller[*stewardv1alpha1.ConfigBundle], error) {
	cc := op.Config().For(ControllerName)
	if opts.Clock == nil {
		opts.Clock = op.Clock()
	}
	if opts.Events == nil {
		opts.Events = events.NewEventGenerator(op.Recorder())
	}
	if opts.DefaultResync == 0 {
		opts.DefaultResync = cc.ResyncInterval.Duration
	}

	finalizer := stewardv1alpha1.ConfigBundleFinalizer
	if override := op.Config().Controllers[ControllerName].FinalizerName; override != "" {
		finalizer = override
	}

	ctrl, err := operator.Register(op, New(op.Client(), opts), &stewardv1alpha1.ConfigBundle{}, reconciler.Options{
		Name:          ControllerName,
		FinalizerName: finalizer,
	})
	if err != nil {
		return nil, err
	}
	if err := operator.WatchOwned(op, ctrl, ConfigMapSource, &corev1.ConfigMap{}, source.OwnerLabelMapper); err != nil {
		return nil, err
	}
	if err := ctrl.Watch(TriggerSource, source.NewChannel(TriggerSource, opts.Triggers)); err != nil {
		return nil, err
	}
	return ctrl, nil
}
