package configbundle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"steward/internal/events"
	"steward/internal/reconciler"
	"steward/internal/reconciler/source"
	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
	"steward/pkg/logging"
)

const (
	// ControllerName is the name the ConfigBundle controller registers under.
	ControllerName = "configbundle"

	// FileSource watches Spec.SourcePath.
	FileSource = "file"

	// ResyncSource periodically re-renders the ConfigMap.
	ResyncSource = "resync"

	// TriggerSource carries resync requests from outside the cluster, such
	// as SIGHUP. A triggered dispatch always refreshes Status.LastSyncTime.
	TriggerSource = "trigger"
)

// Options configures a Reconciler.
type Options struct {
	// Clock drives the file debounce and resync timers.
	Clock clock.WithDelayedExecution

	// DefaultResync applies to bundles without Spec.ResyncInterval.
	// Zero disables the periodic resync for those bundles.
	DefaultResync time.Duration

	// Debounce delays reconciliation after a source file change.
	Debounce time.Duration

	// Events records Kubernetes Events on the bundle. Nil disables them.
	Events *events.EventGenerator

	// Triggers feeds identities to the controller-wide TriggerSource. Nil
	// leaves the source idle.
	Triggers <-chan reconciler.ResourceID
}

// errForeignConfigMap is returned when the target ConfigMap carries the
// owner labels of another bundle.
var errForeignConfigMap = errors.New("owned by another bundle")

// Reconciler renders ConfigBundles into ConfigMaps.
type Reconciler struct {
	client client.Client
	opts   Options
}

// New creates a ConfigBundle reconciler writing through c.
func New(c client.Client, opts Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Debounce == 0 {
		opts.Debounce = source.DefaultDebounce
	}
	return &Reconciler{client: c, opts: opts}
}

// FinalizerPolicy implements reconciler.Reconciler. The generated ConfigMap
// may live in another namespace, so it cannot be garbage collected through
// an owner reference and needs explicit cleanup.
func (r *Reconciler) FinalizerPolicy() reconciler.FinalizerPolicy {
	return reconciler.FinalizerRequired
}

// CreateOrUpdate writes the ConfigMap for b and reports the result in its status.
func (r *Reconciler) CreateOrUpdate(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *reconciler.Context) (reconciler.UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
	if err := r.ensureSources(b, rctx); err != nil {
		return reconciler.NoUpdate[*stewardv1alpha1.ConfigBundle](), err
	}

	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{
		Namespace: targetNamespace(b),
		Name:      configMapName(b),
	}}
	target := cm.Namespace + "/" + cm.Name

	data, err := renderData(b)
	if err != nil {
		r.reportFailure(ctx, b, target, err)
		return reconciler.NoUpdate[*stewardv1alpha1.ConfigBundle](), err
	}

	result, err := controllerutil.CreateOrUpdate(ctx, r.client, cm, func() error {
		if owner := cm.Labels[source.OwnerUIDLabel]; owner != "" && owner != string(b.UID) {
			return fmt.Errorf("configmap %s: %w", target, errForeignConfigMap)
		}
		if cm.Labels == nil {
			cm.Labels = map[string]string{}
		}
		for k, v := range source.OwnerLabels(b) {
			cm.Labels[k] = v
		}
		cm.Data = data
		return nil
	})
	if err != nil {
		r.reportFailure(ctx, b, target, err)
		return reconciler.NoUpdate[*stewardv1alpha1.ConfigBundle](), fmt.Errorf("failed to write configmap %s: %w", target, err)
	}
	logging.Debug("ConfigBundle", "ConfigMap %s/%s %s for %s", cm.Namespace, cm.Name, result, rctx.ID)

	forced := rctx.TriggeredBy(TriggerSource)
	if forced {
		logging.Info("ConfigBundle", "Resync of %s requested", rctx.ID)
	}
	if !forced && result == controllerutil.OperationResultNone &&
		b.Status.Phase == stewardv1alpha1.PhaseSynced &&
		b.Status.ObservedGeneration == b.Generation &&
		b.Status.Keys == len(data) {
		return reconciler.NoUpdate[*stewardv1alpha1.ConfigBundle](), nil
	}

	now := metav1.NewTime(r.opts.Clock.Now())
	b.Status = stewardv1alpha1.ConfigBundleStatus{
		ObservedGeneration: b.Generation,
		Phase:              stewardv1alpha1.PhaseSynced,
		Keys:               len(data),
		LastSyncTime:       &now,
	}
	logging.Info("ConfigBundle", "Synced %s into %s (%d keys)", rctx.ID, target, len(data))
	r.opts.Events.ObjectEvent(b, events.ReasonConfigBundleSynced, events.EventData{Target: target, Keys: len(data)})
	return reconciler.UpdateStatus(b), nil
}

// Delete removes the generated ConfigMap.
func (r *Reconciler) Delete(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *reconciler.Context) (bool, error) {
	cm := &corev1.ConfigMap{}
	key := client.ObjectKey{Namespace: targetNamespace(b), Name: configMapName(b)}
	if err := r.client.Get(ctx, key, cm); err != nil {
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	if owner := cm.Labels[source.OwnerUIDLabel]; owner != string(b.UID) {
		logging.Warn("ConfigBundle", "Leaving %s in place, it is not owned by %s", key, rctx.ID)
		return true, nil
	}

	if err := r.client.Delete(ctx, cm, client.Preconditions{UID: &cm.UID}); client.IgnoreNotFound(err) != nil {
		return false, err
	}
	logging.Info("ConfigBundle", "Deleted ConfigMap %s for %s", key, rctx.ID)
	r.opts.Events.ObjectEvent(b, events.ReasonConfigBundleCleanedUp, events.EventData{Target: key.String()})
	return true, nil
}

// ensureSources keeps the file watch and the resync timer in line with the
// current spec.
func (r *Reconciler) ensureSources(b *stewardv1alpha1.ConfigBundle, rctx *reconciler.Context) error {
	if existing, ok := rctx.EventSource(FileSource); ok {
		if f, isFile := existing.(*source.File); !isFile || f.Path() != b.Spec.SourcePath {
			rctx.DeregisterEventSource(FileSource)
		}
	}
	if b.Spec.SourcePath != "" {
		_, err := rctx.RegisterEventSourceIfAbsent(FileSource, func() (reconciler.EventSource, error) {
			return source.NewFile(FileSource, b.Spec.SourcePath, r.opts.Debounce, r.opts.Clock), nil
		})
		if err != nil {
			return err
		}
	}

	interval := r.opts.DefaultResync
	if b.Spec.ResyncInterval != nil {
		interval = b.Spec.ResyncInterval.Duration
	}
	if existing, ok := rctx.EventSource(ResyncSource); ok {
		if t, isTimer := existing.(*source.Timer); !isTimer || t.Interval() != interval {
			rctx.DeregisterEventSource(ResyncSource)
		}
	}
	if interval > 0 {
		_, err := rctx.RegisterEventSourceIfAbsent(ResyncSource, func() (reconciler.EventSource, error) {
			return source.NewTimer(ResyncSource, interval, r.opts.Clock), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Preview returns the ConfigMap b renders to without writing it.
func Preview(b *stewardv1alpha1.ConfigBundle) (*corev1.ConfigMap, error) {
	data, err := renderData(b)
	if err != nil {
		return nil, err
	}
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: metav1.ObjectMeta{
			Namespace: targetNamespace(b),
			Name:      configMapName(b),
			Labels:    source.OwnerLabels(b),
		},
		Data: data,
	}, nil
}

// renderData merges the source file under Spec.Data.
func renderData(b *stewardv1alpha1.ConfigBundle) (map[string]string, error) {
	data := make(map[string]string, len(b.Spec.Data))

	if b.Spec.SourcePath != "" {
		var raw map[string]interface{}
		if err := source.ReadYAML(b.Spec.SourcePath, &raw); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", b.Spec.SourcePath, err)
		}
		for k, v := range raw {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				logging.Debug("ConfigBundle", "Skipping nested key %q from %s", k, b.Spec.SourcePath)
				continue
			case nil:
				data[k] = ""
			default:
				data[k] = fmt.Sprint(v)
			}
		}
	}
	for k, v := range b.Spec.Data {
		data[k] = v
	}

	var invalid []string
	for k := range data {
		if msgs := validation.IsConfigMapKey(k); len(msgs) > 0 {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("invalid configmap keys: %s", strings.Join(invalid, ", "))
	}
	return data, nil
}

// reportFailure records the error phase without waiting for the dispatch to
// finish. Failures to write it are only logged since the dispatch is already
// failing.
func (r *Reconciler) reportFailure(ctx context.Context, b *stewardv1alpha1.ConfigBundle, target string, cause error) {
	if errors.Is(cause, errForeignConfigMap) {
		r.opts.Events.ObjectEvent(b, events.ReasonConfigBundleConflict, events.EventData{Target: target})
	} else {
		r.opts.Events.ObjectEvent(b, events.ReasonConfigBundleSyncFailed, events.EventData{Target: target, Error: cause.Error()})
	}

	if b.Status.Phase == stewardv1alpha1.PhaseError {
		return
	}
	patch := client.MergeFrom(b.DeepCopy())
	b.Status.Phase = stewardv1alpha1.PhaseError
	if err := r.client.Status().Patch(ctx, b, patch); err != nil {
		logging.Warn("ConfigBundle", "Failed to record error phase for %s/%s: %v (cause: %v)", b.Namespace, b.Name, err, cause)
	}
}

func targetNamespace(b *stewardv1alpha1.ConfigBundle) string {
	if b.Spec.TargetNamespace != "" {
		return b.Spec.TargetNamespace
	}
	return b.Namespace
}

func configMapName(b *stewardv1alpha1.ConfigBundle) string {
	if b.Spec.ConfigMapName != "" {
		return b.Spec.ConfigMapName
	}
	return b.Name
}

var _ reconciler.Reconciler[*stewardv1alpha1.ConfigBundle] = (*Reconciler)(nil)
