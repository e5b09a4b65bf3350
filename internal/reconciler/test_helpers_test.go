package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
)

const testFinalizer = "test.steward.giantswarm.io/finalizer"

// =============================================================================
// Scheme, objects and fake client
// =============================================================================

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(stewardv1alpha1.AddToScheme(scheme))
	return scheme
}

func newBundle(name string, finalizers ...string) *stewardv1alpha1.ConfigBundle {
	return &stewardv1alpha1.ConfigBundle{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  "default",
			UID:        types.UID(name + "-uid"),
			Finalizers: finalizers,
		},
		Spec: stewardv1alpha1.ConfigBundleSpec{
			Data: map[string]string{"key": "value"},
		},
	}
}

// finalizerRecorder counts finalizer additions and removals on ConfigBundles
// by comparing each update against the stored object.
type finalizerRecorder struct {
	mu      sync.Mutex
	journal *journal
	adds    int
	removes int

	// failUpdates makes the next n finalizer updates fail with err.
	failUpdates int
	failErr     error
}

func (r *finalizerRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adds, r.removes
}

func (r *finalizerRecorder) funcs() interceptor.Funcs {
	return interceptor.Funcs{
		Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
			bundle, ok := obj.(*stewardv1alpha1.ConfigBundle)
			if !ok {
				return c.Update(ctx, obj, opts...)
			}
			stored := &stewardv1alpha1.ConfigBundle{}
			if err := c.Get(ctx, client.ObjectKeyFromObject(bundle), stored); err != nil {
				return err
			}
			had := controllerutil.ContainsFinalizer(stored, testFinalizer)
			has := controllerutil.ContainsFinalizer(bundle, testFinalizer)

			r.mu.Lock()
			if had != has && r.failUpdates > 0 {
				r.failUpdates--
				r.mu.Unlock()
				return r.failErr
			}
			r.mu.Unlock()

			if err := c.Update(ctx, obj, opts...); err != nil {
				return err
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			switch {
			case !had && has:
				r.adds++
				r.journal.add("finalizer:add")
			case had && !has:
				r.removes++
				r.journal.add("finalizer:remove")
			}
			return nil
		},
	}
}

func newFakeClient(t *testing.T, rec *finalizerRecorder, objs ...client.Object) client.WithWatch {
	t.Helper()
	builder := fake.NewClientBuilder().
		WithScheme(newTestScheme(t)).
		WithStatusSubresource(&stewardv1alpha1.ConfigBundle{}).
		WithObjects(objs...)
	if rec != nil {
		builder = builder.WithInterceptorFuncs(rec.funcs())
	}
	return builder.Build()
}

// =============================================================================
// journal records the order of externally visible calls
// =============================================================================

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// =============================================================================
// testReconciler is a configurable Reconciler for ConfigBundles
// =============================================================================

type testReconciler struct {
	policy  FinalizerPolicy
	journal *journal

	createOrUpdateCalls atomic.Int32
	deleteCalls         atomic.Int32

	onCreateOrUpdate func(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error)
	onDelete         func(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *Context) (bool, error)
}

func (r *testReconciler) CreateOrUpdate(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
	r.createOrUpdateCalls.Add(1)
	r.journal.add("createOrUpdate")
	if r.onCreateOrUpdate != nil {
		return r.onCreateOrUpdate(ctx, b, rctx)
	}
	return NoUpdate[*stewardv1alpha1.ConfigBundle](), nil
}

func (r *testReconciler) Delete(ctx context.Context, b *stewardv1alpha1.ConfigBundle, rctx *Context) (bool, error) {
	r.deleteCalls.Add(1)
	r.journal.add("delete")
	if r.onDelete != nil {
		return r.onDelete(ctx, b, rctx)
	}
	return true, nil
}

func (r *testReconciler) FinalizerPolicy() FinalizerPolicy {
	return r.policy
}

// =============================================================================
// Event sources and listeners
// =============================================================================

// recordingSource is an EventSource that records its lifecycle calls.
type recordingSource struct {
	mu       sync.Mutex
	handler  EventHandler
	started  []ResourceID
	stopped  []ResourceID
	outcomes []ExecutionOutcome
	startErr error
	stopErr  error

	onFinished func(ExecutionOutcome)
}

func (s *recordingSource) SetEventHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *recordingSource) Start(id ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, id)
	return nil
}

func (s *recordingSource) Stop(id ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
	return s.stopErr
}

func (s *recordingSource) OnExecutionFinished(outcome ExecutionOutcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, outcome)
	fn := s.onFinished
	s.mu.Unlock()
	if fn != nil {
		fn(outcome)
	}
}

func (s *recordingSource) counts() (started, stopped, outcomes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started), len(s.stopped), len(s.outcomes)
}

func (s *recordingSource) emit(e Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h.Submit(e)
}

// recordingHandler is an EventHandler that keeps every event.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Submit(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// recordingListener is an ExecutionListener that keeps outcomes and cleanups.
type recordingListener struct {
	mu       sync.Mutex
	outcomes []ExecutionOutcome
	cleaned  []ResourceID
}

func (l *recordingListener) NotifyExecutionFinished(outcome ExecutionOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
}

func (l *recordingListener) Cleanup(id ResourceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleaned = append(l.cleaned, id)
	return nil
}

func (l *recordingListener) snapshot() ([]ExecutionOutcome, []ResourceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ExecutionOutcome(nil), l.outcomes...), append([]ResourceID(nil), l.cleaned...)
}

var errTest = errors.New("test error")

func testID(name string) ResourceID {
	return ResourceID{Namespace: "default", Name: name, UID: types.UID(name + "-uid")}
}
