package source

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/types"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"steward/internal/reconciler"
	"steward/pkg/logging"
)

// Labels that tie a secondary object to the primary resource it belongs to.
const (
	OwnerNamespaceLabel = "steward.giantswarm.io/owner-namespace"
	OwnerNameLabel      = "steward.giantswarm.io/owner-name"
	OwnerUIDLabel       = "steward.giantswarm.io/owner-uid"
)

// MapFunc maps a watched object to the identities it affects.
type MapFunc func(obj client.Object) []reconciler.ResourceID

// OwnerLabels returns the labels OwnerLabelMapper resolves back to owner.
func OwnerLabels(owner client.Object) map[string]string {
	return map[string]string{
		OwnerNamespaceLabel: owner.GetNamespace(),
		OwnerNameLabel:      owner.GetName(),
		OwnerUIDLabel:       string(owner.GetUID()),
	}
}

// OwnerLabelMapper maps an object carrying owner labels to its owner.
// Objects without a complete set of labels map to nothing.
func OwnerLabelMapper(obj client.Object) []reconciler.ResourceID {
	labels := obj.GetLabels()
	name, uid := labels[OwnerNameLabel], labels[OwnerUIDLabel]
	if name == "" || uid == "" {
		return nil
	}
	ns, ok := labels[OwnerNamespaceLabel]
	if !ok {
		ns = obj.GetNamespace()
	}
	return []reconciler.ResourceID{{Namespace: ns, Name: name, UID: types.UID(uid)}}
}

// InformerOptions configures an Informer.
type InformerOptions struct {
	// Name is the source name carried by emitted events.
	Name string

	// Informers provides the shared informer for Prototype.
	Informers cache.Informers

	// Prototype is an empty object of the watched kind.
	Prototype client.Object

	// Namespaces restricts the watch. Empty means all namespaces.
	Namespaces []string

	// Map turns the source into a secondary watch. Nil means the watched
	// objects are the reconciled resources themselves.
	Map MapFunc
}

// Informer is a controller-wide event source backed by a controller-runtime
// informer.
//
// As a primary watch it emits Add, Update and Delete events carrying object
// snapshots. Updates of generation-tracking kinds that change neither the
// generation nor the deletion timestamp are dropped, so status and
// finalizer writes made by the controller itself do not come back as work.
// As a secondary watch every change is emitted as a Generic event for each
// mapped identity.
type Informer struct {
	mu sync.Mutex

	opts       InformerOptions
	namespaces map[string]bool
	handler    reconciler.EventHandler

	informer     cache.Informer
	registration toolscache.ResourceEventHandlerRegistration
}

// NewInformer creates an informer source. It does nothing until started.
func NewInformer(opts InformerOptions) (*Informer, error) {
	if opts.Informers == nil || opts.Prototype == nil {
		return nil, fmt.Errorf("informer source %q needs informers and a prototype", opts.Name)
	}
	if opts.Name == "" {
		opts.Name = "informer"
	}

	namespaces := make(map[string]bool, len(opts.Namespaces))
	for _, ns := range opts.Namespaces {
		namespaces[ns] = true
	}

	return &Informer{
		opts:       opts,
		namespaces: namespaces,
	}, nil
}

// Name returns the source name.
func (s *Informer) Name() string {
	return s.opts.Name
}

// SetEventHandler implements reconciler.EventSource.
func (s *Informer) SetEventHandler(h reconciler.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Start attaches the event handler to the shared informer. The informer
// itself is run by the owning cache.
func (s *Informer) Start(reconciler.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registration != nil {
		return nil
	}

	informer, err := s.opts.Informers.GetInformer(context.Background(), s.opts.Prototype, cache.BlockUntilSynced(false))
	if err != nil {
		return fmt.Errorf("failed to get informer for %s: %w", s.opts.Name, err)
	}

	registration, err := informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc:    s.handleAdd,
		UpdateFunc: s.handleUpdate,
		DeleteFunc: s.handleDelete,
	})
	if err != nil {
		return fmt.Errorf("failed to add event handler for %s: %w", s.opts.Name, err)
	}

	s.informer = informer
	s.registration = registration

	logging.Debug("Informer", "Started %s watch %q in %s", s.kind(), s.opts.Name, s.namespaceDisplay())
	return nil
}

// Stop detaches the event handler.
func (s *Informer) Stop(reconciler.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registration == nil {
		return nil
	}
	err := s.informer.RemoveEventHandler(s.registration)
	s.informer = nil
	s.registration = nil

	if err != nil {
		return fmt.Errorf("failed to remove event handler for %s: %w", s.opts.Name, err)
	}
	logging.Debug("Informer", "Stopped watch %q", s.opts.Name)
	return nil
}

// OnExecutionFinished implements reconciler.EventSource.
func (s *Informer) OnExecutionFinished(reconciler.ExecutionOutcome) {}

func (s *Informer) handleAdd(obj interface{}) {
	o, ok := obj.(client.Object)
	if !ok {
		logging.Warn("Informer", "Failed to extract metadata from add event on %s", s.opts.Name)
		return
	}
	s.emit(o, reconciler.EventAdd)
}

func (s *Informer) handleUpdate(oldObj, newObj interface{}) {
	o, ok := newObj.(client.Object)
	if !ok {
		logging.Warn("Informer", "Failed to extract metadata from update event on %s", s.opts.Name)
		return
	}
	if old, ok := oldObj.(client.Object); ok && s.opts.Map == nil && unchanged(old, o) {
		return
	}
	s.emit(o, reconciler.EventUpdate)
}

func (s *Informer) handleDelete(obj interface{}) {
	// Objects deleted while the watch was disconnected arrive wrapped.
	if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	o, ok := obj.(client.Object)
	if !ok {
		logging.Warn("Informer", "Failed to extract metadata from delete event on %s", s.opts.Name)
		return
	}
	s.emit(o, reconciler.EventDelete)
}

// unchanged reports whether an update left the generation and the deletion
// timestamp alone. Kinds that do not track generations always count as
// changed.
func unchanged(old, cur client.Object) bool {
	if cur.GetGeneration() == 0 {
		return false
	}
	return old.GetGeneration() == cur.GetGeneration() &&
		old.GetDeletionTimestamp().Equal(cur.GetDeletionTimestamp())
}

func (s *Informer) emit(obj client.Object, eventType reconciler.EventType) {
	if len(s.namespaces) > 0 && !s.namespaces[obj.GetNamespace()] {
		return
	}

	s.mu.Lock()
	h := s.handler
	started := s.registration != nil
	s.mu.Unlock()
	if h == nil || !started {
		return
	}

	if s.opts.Map == nil {
		snapshot, _ := obj.DeepCopyObject().(client.Object)
		h.Submit(reconciler.NewEvent(reconciler.IDFor(obj), s.opts.Name, eventType, snapshot))
		return
	}

	for _, id := range s.opts.Map(obj) {
		logging.Debug("Informer", "%s %s/%s on %s maps to %s",
			eventType, obj.GetNamespace(), obj.GetName(), s.opts.Name, id)
		h.Submit(reconciler.NewEvent(id, s.opts.Name, reconciler.EventGeneric, nil))
	}
}

func (s *Informer) kind() string {
	if s.opts.Map == nil {
		return "primary"
	}
	return "secondary"
}

func (s *Informer) namespaceDisplay() string {
	if len(s.opts.Namespaces) == 0 {
		return "all namespaces"
	}
	return fmt.Sprintf("namespaces %v", s.opts.Namespaces)
}

var _ reconciler.EventSource = (*Informer)(nil)
