package reconciler

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"steward/pkg/logging"
)

// Controller owns the scheduler, registry, dispatcher and executor of one
// registered reconciler.
type Controller[T client.Object] struct {
	opts       Options
	scheduler  *Scheduler
	registry   *Registry
	dispatcher *Dispatcher[T]
	executor   *Executor

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	stopped bool
}

// ControllerConfig holds the optional collaborators of a Controller.
type ControllerConfig struct {
	Clock   clock.WithDelayedExecution
	Metrics *ReconcilerMetrics
}

// NewController wires a controller for r. prototype is an empty object of
// the reconciled kind.
func NewController[T client.Object](c client.Client, r Reconciler[T], prototype T, opts Options, cfg ControllerConfig) (*Controller[T], error) {
	opts = opts.withDefaults()
	if opts.Name == "" {
		return nil, &ConfigurationError{Reason: "controller name is empty"}
	}
	if r.FinalizerPolicy() == FinalizerRequired && opts.FinalizerName == "" {
		return nil, &ConfigurationError{Controller: opts.Name, Reason: "finalizer name is required"}
	}

	executor := NewExecutor(opts.Workers)
	scheduler := NewScheduler(SchedulerConfig{
		Name:           opts.Name,
		Clock:          cfg.Clock,
		InitialBackoff: opts.InitialBackoff,
		MaxBackoff:     opts.MaxBackoff,
		Executor:       executor,
		Metrics:        cfg.Metrics,
	})
	registry := NewRegistry(scheduler)
	scheduler.SetListener(registry)

	dispatcher := NewDispatcher(c, r, prototype, registry, opts)
	scheduler.SetDispatch(dispatcher.Handle)

	return &Controller[T]{
		opts:       opts,
		scheduler:  scheduler,
		registry:   registry,
		dispatcher: dispatcher,
		executor:   executor,
	}, nil
}

// Name returns the controller name.
func (c *Controller[T]) Name() string {
	return c.opts.Name
}

// Registry returns the controller's event source registry.
func (c *Controller[T]) Registry() *Registry {
	return c.registry
}

// Scheduler returns the controller's scheduler.
func (c *Controller[T]) Scheduler() *Scheduler {
	return c.scheduler
}

// Watch registers a controller-wide event source.
func (c *Controller[T]) Watch(name string, src EventSource) error {
	if err := c.registry.RegisterControllerSource(name, src); err != nil {
		return fmt.Errorf("controller %s: %w", c.opts.Name, err)
	}
	return nil
}

// Start begins dispatching. Events submitted before Start are kept and
// dispatched now.
func (c *Controller[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("controller %s was stopped", c.opts.Name)
	}
	if c.running {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.scheduler.Start(ctx)
	logging.Info("Controller", "Started controller %s (workers: %d)", c.opts.Name, c.opts.Workers)
	return nil
}

// Stop stops every event source and the scheduler, then waits for running
// dispatches to finish.
func (c *Controller[T]) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	err := c.registry.Stop()
	c.scheduler.Stop()
	if cancel != nil {
		cancel()
	}
	c.executor.Wait()

	logging.Info("Controller", "Stopped controller %s", c.opts.Name)
	return err
}

// Trigger submits a generic event for id.
func (c *Controller[T]) Trigger(id ResourceID) {
	c.scheduler.Submit(NewEvent(id, "manual", EventGeneric, nil))
}

// Status returns the scheduler's view of id.
func (c *Controller[T]) Status(id ResourceID) (ResourceStatus, bool) {
	return c.scheduler.Status(id)
}

// Statuses returns the scheduler's view of every tracked resource.
func (c *Controller[T]) Statuses() []ResourceStatus {
	return c.scheduler.Statuses()
}

// Runnable is the kind-independent view of a Controller.
type Runnable interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Trigger(id ResourceID)
	Statuses() []ResourceStatus
	Registry() *Registry
}

var _ Runnable = (*Controller[client.Object])(nil)
