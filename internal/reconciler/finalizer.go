package reconciler

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

// NoUpdateError tells updateWithRetry that the mutation was already applied.
type NoUpdateError struct{}

func (e *NoUpdateError) Error() string {
	return "no update required"
}

// retriable reports whether an update error is worth an immediate retry.
func retriable(err error) bool {
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err)
}

// updateWithRetry applies mutate to obj and updates it.
//
// On a resourceVersion conflict the latest version is fetched and the
// mutation reapplied. A changed UID stops the retry. If mutate returns a
// *NoUpdateError the update is skipped and false returned.
func updateWithRetry(ctx context.Context, c client.Client, obj client.Object, mutate func() error) (bool, error) {
	uid := obj.GetUID()
	if uid == "" {
		return false, fmt.Errorf("failed to update %s: metadata.uid is empty", client.ObjectKeyFromObject(obj))
	}
	key := client.ObjectKeyFromObject(obj)

	err := retry.OnError(retry.DefaultRetry, retriable, func() error {
		if err := mutate(); err != nil {
			return err
		}
		updateErr := c.Update(ctx, obj)
		if updateErr == nil {
			return nil
		}
		if apierrors.IsConflict(updateErr) {
			if getErr := c.Get(ctx, key, obj); getErr != nil {
				return getErr
			}
			if obj.GetUID() != uid {
				return &LostInstanceError{ID: ResourceID{Namespace: key.Namespace, Name: key.Name, UID: uid}, Replaced: true}
			}
		}
		return updateErr
	})
	if err != nil {
		var noUpdate *NoUpdateError
		if errors.As(err, &noUpdate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// addFinalizer adds finalizer to obj. It is a no-op when already present.
func addFinalizer(ctx context.Context, c client.Client, obj client.Object, finalizer string) (bool, error) {
	return updateWithRetry(ctx, c, obj, func() error {
		if !controllerutil.AddFinalizer(obj, finalizer) {
			return &NoUpdateError{}
		}
		return nil
	})
}

// removeFinalizer removes finalizer from obj. It is a no-op when already
// absent or when the object is gone.
func removeFinalizer(ctx context.Context, c client.Client, obj client.Object, finalizer string) (bool, error) {
	updated, err := updateWithRetry(ctx, c, obj, func() error {
		if !controllerutil.RemoveFinalizer(obj, finalizer) {
			return &NoUpdateError{}
		}
		return nil
	})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	return updated, err
}
