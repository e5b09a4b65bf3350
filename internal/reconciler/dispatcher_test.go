package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
)

func newTestDispatcher(t *testing.T, c client.Client, r Reconciler[*stewardv1alpha1.ConfigBundle]) *Dispatcher[*stewardv1alpha1.ConfigBundle] {
	t.Helper()
	return NewDispatcher[*stewardv1alpha1.ConfigBundle](c, r, &stewardv1alpha1.ConfigBundle{}, NewRegistry(&recordingHandler{}),
		Options{Name: "test", FinalizerName: testFinalizer})
}

func getBundle(t *testing.T, c client.Client, name string) *stewardv1alpha1.ConfigBundle {
	t.Helper()
	bundle := &stewardv1alpha1.ConfigBundle{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Namespace: "default", Name: name}, bundle))
	return bundle
}

func TestDispatcherAddsFinalizerBeforeCreateOrUpdate(t *testing.T) {
	j := &journal{}
	rec := &finalizerRecorder{journal: j}
	c := newFakeClient(t, rec, newBundle("a"))
	r := &testReconciler{policy: FinalizerRequired, journal: j}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Events: []Event{NewEvent(testID("a"), "primary", EventAdd, nil)}})

	assert.Equal(t, ActionDone, control.Action)
	assert.False(t, control.Removed)
	assert.Equal(t, []string{"finalizer:add", "createOrUpdate"}, j.snapshot())
	assert.True(t, controllerutil.ContainsFinalizer(getBundle(t, c, "a"), testFinalizer))

	// A second dispatch does not touch the finalizer again.
	d.Handle(context.Background(), ExecutionScope{ID: testID("a")})
	adds, _ := rec.counts()
	assert.Equal(t, 1, adds)
}

func TestDispatcherFinalizerNoneNeverAddsFinalizer(t *testing.T) {
	rec := &finalizerRecorder{}
	c := newFakeClient(t, rec, newBundle("a"))
	r := &testReconciler{policy: FinalizerNone}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	assert.Equal(t, ActionDone, control.Action)
	adds, _ := rec.counts()
	assert.Equal(t, 0, adds)
	assert.Equal(t, int32(1), r.createOrUpdateCalls.Load())
}

func TestDispatcherMapsUpdateControls(t *testing.T) {
	tests := []struct {
		name        string
		control     func(b *stewardv1alpha1.ConfigBundle) UpdateControl[*stewardv1alpha1.ConfigBundle]
		wantAction  Action
		wantDelay   time.Duration
		wantPhase   string
		wantDataKey string
	}{
		{
			name: "no update",
			control: func(*stewardv1alpha1.ConfigBundle) UpdateControl[*stewardv1alpha1.ConfigBundle] {
				return NoUpdate[*stewardv1alpha1.ConfigBundle]()
			},
			wantAction: ActionDone,
		},
		{
			name: "update status and requeue",
			control: func(b *stewardv1alpha1.ConfigBundle) UpdateControl[*stewardv1alpha1.ConfigBundle] {
				b.Status.Phase = stewardv1alpha1.PhaseSynced
				return UpdateStatus(b).RequeueAfter(5 * time.Second)
			},
			wantAction: ActionRequeueAfter,
			wantDelay:  5 * time.Second,
			wantPhase:  stewardv1alpha1.PhaseSynced,
		},
		{
			name: "update resource",
			control: func(b *stewardv1alpha1.ConfigBundle) UpdateControl[*stewardv1alpha1.ConfigBundle] {
				b.Spec.Data["added"] = "yes"
				return UpdateResource(b)
			},
			wantAction:  ActionDone,
			wantDataKey: "added",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient(t, nil, newBundle("a", testFinalizer))
			r := &testReconciler{policy: FinalizerRequired}
			r.onCreateOrUpdate = func(_ context.Context, b *stewardv1alpha1.ConfigBundle, _ *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
				return tt.control(b), nil
			}
			d := newTestDispatcher(t, c, r)

			control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})
			assert.Equal(t, tt.wantAction, control.Action)
			assert.Equal(t, tt.wantDelay, control.Delay)

			stored := getBundle(t, c, "a")
			if tt.wantPhase != "" {
				assert.Equal(t, tt.wantPhase, stored.Status.Phase)
			}
			if tt.wantDataKey != "" {
				assert.Contains(t, stored.Spec.Data, tt.wantDataKey)
			}
		})
	}
}

func TestDispatcherHookErrorIsReconcilerError(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a", testFinalizer))
	r := &testReconciler{policy: FinalizerRequired}
	r.onCreateOrUpdate = func(context.Context, *stewardv1alpha1.ConfigBundle, *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
		return NoUpdate[*stewardv1alpha1.ConfigBundle](), errTest
	}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Attempt: 2})

	require.Equal(t, ActionFailed, control.Action)
	assert.Equal(t, 3, control.Attempt)
	var hookErr *ReconcilerError
	require.ErrorAs(t, control.Err, &hookErr)
	assert.Equal(t, "CreateOrUpdate", hookErr.Hook)
	assert.ErrorIs(t, control.Err, errTest)
}

func TestDispatcherWriteConflictIsRetryable(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a", testFinalizer))
	r := &testReconciler{policy: FinalizerRequired}
	r.onCreateOrUpdate = func(_ context.Context, b *stewardv1alpha1.ConfigBundle, _ *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
		stale := b.DeepCopy()
		stale.ResourceVersion = "1"
		stale.Spec.TargetNamespace = "elsewhere"
		return UpdateResource(stale), nil
	}
	d := newTestDispatcher(t, c, r)

	// Bump the stored resourceVersion so the update conflicts.
	current := getBundle(t, c, "a")
	current.Spec.ConfigMapName = "bumped"
	require.NoError(t, c.Update(context.Background(), current))

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	require.Equal(t, ActionFailed, control.Action)
	var callErr *ExternalCallError
	require.ErrorAs(t, control.Err, &callErr)
	assert.True(t, callErr.Conflict())
	assert.True(t, IsRetryable(control.Err))
}

func TestDispatcherGetErrorIsExternalCallError(t *testing.T) {
	c := newFakeClient(t, nil)
	failing := &failingGetClient{Client: c, err: apierrors.NewServiceUnavailable("down")}
	r := &testReconciler{policy: FinalizerRequired}
	d := newTestDispatcher(t, failing, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	require.Equal(t, ActionFailed, control.Action)
	var callErr *ExternalCallError
	require.ErrorAs(t, control.Err, &callErr)
	assert.Equal(t, "get", callErr.Operation)
	assert.Equal(t, int32(0), r.createOrUpdateCalls.Load())
}

type failingGetClient struct {
	client.Client
	err error
}

func (c *failingGetClient) Get(context.Context, client.ObjectKey, client.Object, ...client.GetOption) error {
	return c.err
}

func TestDispatcherDeletionRemovesFinalizerAfterHook(t *testing.T) {
	j := &journal{}
	rec := &finalizerRecorder{journal: j}
	c := newFakeClient(t, rec, newBundle("a", testFinalizer))
	require.NoError(t, c.Delete(context.Background(), newBundle("a")))

	r := &testReconciler{policy: FinalizerRequired, journal: j}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Events: []Event{NewEvent(testID("a"), "primary", EventDelete, nil)}})

	assert.Equal(t, ActionDone, control.Action)
	assert.True(t, control.Removed)
	assert.Equal(t, []string{"delete", "finalizer:remove"}, j.snapshot())
	assert.Equal(t, int32(0), r.createOrUpdateCalls.Load())

	err := c.Get(context.Background(), client.ObjectKey{Namespace: "default", Name: "a"}, &stewardv1alpha1.ConfigBundle{})
	assert.True(t, apierrors.IsNotFound(err), "resource should be gone after finalizer removal")
}

func TestDispatcherDeleteFailureKeepsFinalizer(t *testing.T) {
	rec := &finalizerRecorder{}
	c := newFakeClient(t, rec, newBundle("a", testFinalizer))
	require.NoError(t, c.Delete(context.Background(), newBundle("a")))

	r := &testReconciler{policy: FinalizerRequired}
	r.onDelete = func(context.Context, *stewardv1alpha1.ConfigBundle, *Context) (bool, error) {
		return false, errTest
	}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	require.Equal(t, ActionFailed, control.Action)
	var hookErr *ReconcilerError
	require.ErrorAs(t, control.Err, &hookErr)
	assert.Equal(t, "Delete", hookErr.Hook)

	_, removes := rec.counts()
	assert.Equal(t, 0, removes)
	assert.True(t, controllerutil.ContainsFinalizer(getBundle(t, c, "a"), testFinalizer))
}

func TestDispatcherDeleteDeclinedKeepsFinalizer(t *testing.T) {
	rec := &finalizerRecorder{}
	c := newFakeClient(t, rec, newBundle("a", testFinalizer))
	require.NoError(t, c.Delete(context.Background(), newBundle("a")))

	r := &testReconciler{policy: FinalizerRequired}
	r.onDelete = func(context.Context, *stewardv1alpha1.ConfigBundle, *Context) (bool, error) {
		return false, nil
	}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	assert.Equal(t, ActionDone, control.Action)
	assert.False(t, control.Removed)
	_, removes := rec.counts()
	assert.Equal(t, 0, removes)
}

func TestDispatcherFinalizerRemovalFailureIsRetried(t *testing.T) {
	rec := &finalizerRecorder{failUpdates: 1, failErr: apierrors.NewInternalError(errors.New("etcd unavailable"))}
	c := newFakeClient(t, rec, newBundle("a", testFinalizer))
	require.NoError(t, c.Delete(context.Background(), newBundle("a")))

	r := &testReconciler{policy: FinalizerRequired}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})
	require.Equal(t, ActionFailed, control.Action)
	var callErr *ExternalCallError
	require.ErrorAs(t, control.Err, &callErr)
	assert.Equal(t, "remove finalizer", callErr.Operation)

	control = d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Attempt: 1})
	assert.Equal(t, ActionDone, control.Action)
	assert.Equal(t, int32(2), r.deleteCalls.Load())
	_, removes := rec.counts()
	assert.Equal(t, 1, removes)
}

func TestDispatcherDeletionWithoutOurFinalizer(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a", "someone.else/finalizer"))
	require.NoError(t, c.Delete(context.Background(), newBundle("a")))

	r := &testReconciler{policy: FinalizerRequired}
	d := newTestDispatcher(t, c, r)

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	assert.Equal(t, ActionDone, control.Action)
	assert.Equal(t, int32(0), r.deleteCalls.Load())
	assert.Equal(t, int32(0), r.createOrUpdateCalls.Load())
}

func TestDispatcherLostInstance(t *testing.T) {
	t.Run("finalizer required", func(t *testing.T) {
		c := newFakeClient(t, nil)
		r := &testReconciler{policy: FinalizerRequired}
		d := newTestDispatcher(t, c, r)

		control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Events: []Event{
			NewEvent(testID("a"), "primary", EventUpdate, newBundle("a", testFinalizer)),
		}})

		assert.Equal(t, ActionDone, control.Action)
		assert.True(t, control.Removed)
		assert.Equal(t, int32(0), r.deleteCalls.Load())
	})

	t.Run("no finalizer uses snapshot", func(t *testing.T) {
		c := newFakeClient(t, nil)
		r := &testReconciler{policy: FinalizerNone}
		var deleted string
		r.onDelete = func(_ context.Context, b *stewardv1alpha1.ConfigBundle, _ *Context) (bool, error) {
			deleted = b.Name
			return true, errTest
		}
		d := newTestDispatcher(t, c, r)

		control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Events: []Event{
			NewEvent(testID("a"), "primary", EventDelete, newBundle("a")),
		}})

		assert.Equal(t, ActionDone, control.Action, "best-effort delete errors are not retried")
		assert.True(t, control.Removed)
		assert.Equal(t, "a", deleted)
	})

	t.Run("no finalizer without snapshot", func(t *testing.T) {
		c := newFakeClient(t, nil)
		r := &testReconciler{policy: FinalizerNone}
		d := newTestDispatcher(t, c, r)

		control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

		assert.True(t, control.Removed)
		assert.Equal(t, int32(0), r.deleteCalls.Load())
	})

	t.Run("replaced by new incarnation", func(t *testing.T) {
		replacement := newBundle("a", testFinalizer)
		replacement.UID = "another-uid"
		c := newFakeClient(t, nil, replacement)
		r := &testReconciler{policy: FinalizerRequired}
		d := newTestDispatcher(t, c, r)

		control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

		assert.True(t, control.Removed)
		assert.Equal(t, int32(0), r.createOrUpdateCalls.Load())
	})
}

func TestDispatcherContextExposesSources(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a", testFinalizer))
	r := &testReconciler{policy: FinalizerRequired}
	registry := NewRegistry(&recordingHandler{})
	require.NoError(t, registry.Register(testID("a"), "timer", &recordingSource{}))

	var seen map[string]EventSource
	var attempt int
	r.onCreateOrUpdate = func(_ context.Context, _ *stewardv1alpha1.ConfigBundle, rctx *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
		seen = rctx.EventSources()
		attempt = rctx.RetryAttempt
		_, err := rctx.RegisterEventSourceIfAbsent("extra", func() (EventSource, error) {
			return &recordingSource{}, nil
		})
		return NoUpdate[*stewardv1alpha1.ConfigBundle](), err
	}
	d := NewDispatcher[*stewardv1alpha1.ConfigBundle](c, r, &stewardv1alpha1.ConfigBundle{}, registry,
		Options{Name: "test", FinalizerName: testFinalizer})

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a"), Attempt: 3})

	assert.Equal(t, ActionDone, control.Action)
	assert.Contains(t, seen, "timer")
	assert.Equal(t, 3, attempt)
	assert.Len(t, registry.ListFor(testID("a")), 2)
}

func TestDispatcherTimeout(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a", testFinalizer))
	r := &testReconciler{policy: FinalizerRequired}
	r.onCreateOrUpdate = func(ctx context.Context, _ *stewardv1alpha1.ConfigBundle, _ *Context) (UpdateControl[*stewardv1alpha1.ConfigBundle], error) {
		<-ctx.Done()
		return NoUpdate[*stewardv1alpha1.ConfigBundle](), ctx.Err()
	}
	d := NewDispatcher[*stewardv1alpha1.ConfigBundle](c, r, &stewardv1alpha1.ConfigBundle{}, NewRegistry(&recordingHandler{}),
		Options{Name: "test", FinalizerName: testFinalizer, ReconcileTimeout: 10 * time.Millisecond})

	control := d.Handle(context.Background(), ExecutionScope{ID: testID("a")})

	require.Equal(t, ActionFailed, control.Action)
	assert.ErrorIs(t, control.Err, context.DeadlineExceeded)
}

func TestUpdateWithRetryResolvesConflicts(t *testing.T) {
	c := newFakeClient(t, nil, newBundle("a"))
	stale := getBundle(t, c, "a")

	fresh := getBundle(t, c, "a")
	fresh.Spec.ConfigMapName = "bumped"
	require.NoError(t, c.Update(context.Background(), fresh))

	added, err := addFinalizer(context.Background(), c, stale, testFinalizer)
	require.NoError(t, err)
	assert.True(t, added)

	stored := getBundle(t, c, "a")
	assert.True(t, controllerutil.ContainsFinalizer(stored, testFinalizer))
	assert.Equal(t, "bumped", stored.Spec.ConfigMapName, "conflict resolution must not clobber newer changes")

	added, err = addFinalizer(context.Background(), c, stored, testFinalizer)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")
}

func TestRemoveFinalizerOnMissingObject(t *testing.T) {
	c := newFakeClient(t, nil)
	removed, err := removeFinalizer(context.Background(), c, newBundle("a", testFinalizer), testFinalizer)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&ConfigurationError{Controller: "x", Reason: "missing kind"}))
	assert.False(t, IsRetryable(&DuplicateSourceError{Name: "timer"}))
	assert.True(t, IsRetryable(&ExternalCallError{Operation: "get", Err: apierrors.NewConflict(schema.GroupResource{}, "a", errTest)}))
	assert.True(t, IsRetryable(&ReconcilerError{Hook: "Delete", Err: errTest}))
}
