package reconciler

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ConfigurationError reports invalid registration metadata, such as a kind
// missing from the scheme or a CRD that is not installed. It aborts the
// registration it belongs to and nothing else.
type ConfigurationError struct {
	Controller string
	Reason     string
	Err        error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration for controller %q: %s: %v", e.Controller, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid configuration for controller %q: %s", e.Controller, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DuplicateSourceError is returned when a source name is already registered
// for an identity.
type DuplicateSourceError struct {
	ID   ResourceID
	Name string
}

func (e *DuplicateSourceError) Error() string {
	if e.ID == AllResources {
		return fmt.Sprintf("event source %q already registered", e.Name)
	}
	return fmt.Sprintf("event source %q already registered for %s", e.Name, e.ID)
}

// ExternalCallError wraps a failed call to the cluster API.
type ExternalCallError struct {
	ID        ResourceID
	Operation string
	Err       error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.ID, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

// Conflict reports whether the call failed on an optimistic-concurrency conflict.
func (e *ExternalCallError) Conflict() bool {
	return apierrors.IsConflict(e.Err)
}

// ReconcilerError wraps an error returned by a user hook.
type ReconcilerError struct {
	ID      ResourceID
	Hook    string
	Attempt int
	Err     error
}

func (e *ReconcilerError) Error() string {
	return fmt.Sprintf("%s hook failed for %s (attempt %d): %v", e.Hook, e.ID, e.Attempt, e.Err)
}

func (e *ReconcilerError) Unwrap() error { return e.Err }

// LostInstanceError describes a resource that disappeared without a delete
// event being observed, or was replaced by a new incarnation.
type LostInstanceError struct {
	ID ResourceID

	// Replaced is set when an object with the same name but another UID exists.
	Replaced bool
}

func (e *LostInstanceError) Error() string {
	if e.Replaced {
		return fmt.Sprintf("resource %s was replaced by a new instance", e.ID)
	}
	return fmt.Sprintf("resource %s vanished without a delete event", e.ID)
}

// PanicError carries a value recovered from a panicking dispatch.
type PanicError struct {
	ID    ResourceID
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch for %s panicked: %v", e.ID, e.Value)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsDuplicateSource reports whether err is a DuplicateSourceError.
func IsDuplicateSource(err error) bool {
	var dupErr *DuplicateSourceError
	return errors.As(err, &dupErr)
}

// IsRetryable reports whether err should be retried with backoff. Every
// dispatch failure is retryable; configuration problems are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsConfigurationError(err) && !IsDuplicateSource(err)
}
