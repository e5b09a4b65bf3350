package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"steward/internal/config"
	"steward/internal/reconciler"
	"steward/internal/reconciler/source"
	stewardv1alpha1 "steward/pkg/apis/steward/v1alpha1"
	"steward/pkg/logging"
)

// PrimarySource is the name of the watch every registered controller gets
// for its own kind.
const PrimarySource = "primary"

// EventComponent is the source component of recorded Kubernetes Events.
const EventComponent = "steward"

// Clients are the cluster-facing collaborators of an Operator.
type Clients struct {
	Scheme    *runtime.Scheme
	Client    client.Client
	Informers cache.Informers

	// Mapper defaults to Client.RESTMapper().
	Mapper meta.RESTMapper

	// Registry receives the reconciler metrics. Defaults to the
	// controller-runtime registry served on the metrics address.
	Registry prometheus.Registerer

	// Clock drives scheduler and resync timers. Defaults to the real clock.
	Clock clock.WithDelayedExecution

	// Recorder records Kubernetes Events. Defaults to a recorder that
	// drops them.
	Recorder record.EventRecorder

	// broadcaster is shut down by Stop when New created it.
	broadcaster record.EventBroadcaster
}

// Operator hosts any number of controllers over one shared cache and client.
type Operator struct {
	id      string
	cfg     config.StewardConfig
	clients Clients
	metrics *reconciler.ReconcilerMetrics

	mu          sync.Mutex
	controllers []reconciler.Runnable
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool

	ready atomic.Bool
}

// NewScheme returns a scheme with the client-go types and the steward API.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(stewardv1alpha1.AddToScheme(scheme))
	return scheme
}

// New builds the scheme, a dynamic REST mapper, a cache restricted to the
// configured namespaces and a cache-backed client for restConfig.
func New(cfg config.StewardConfig, restConfig *rest.Config) (*Operator, error) {
	scheme := NewScheme()

	httpClient, err := rest.HTTPClientFor(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	mapper, err := apiutil.NewDynamicRESTMapper(restConfig, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create REST mapper: %w", err)
	}

	cacheOpts := cache.Options{
		HTTPClient: httpClient,
		Scheme:     scheme,
		Mapper:     mapper,
	}
	if len(cfg.Operator.Namespaces) > 0 {
		cacheOpts.DefaultNamespaces = make(map[string]cache.Config, len(cfg.Operator.Namespaces))
		for _, ns := range cfg.Operator.Namespaces {
			cacheOpts.DefaultNamespaces[ns] = cache.Config{}
		}
	}
	informers, err := cache.New(restConfig, cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	c, err := client.New(restConfig, client.Options{
		HTTPClient: httpClient,
		Scheme:     scheme,
		Mapper:     mapper,
		Cache:      &client.CacheOptions{Reader: informers},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	clientset, err := kubernetes.NewForConfigAndClient(restConfig, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	broadcaster := record.NewBroadcaster()
	broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: clientset.CoreV1().Events("")})

	return NewWithClients(cfg, Clients{
		Scheme:      scheme,
		Client:      c,
		Informers:   informers,
		Mapper:      mapper,
		Registry:    crmetrics.Registry,
		Recorder:    broadcaster.NewRecorder(scheme, corev1.EventSource{Component: EventComponent}),
		broadcaster: broadcaster,
	})
}

// NewWithClients creates an operator over prebuilt clients.
func NewWithClients(cfg config.StewardConfig, clients Clients) (*Operator, error) {
	if clients.Scheme == nil || clients.Client == nil || clients.Informers == nil {
		return nil, errors.New("operator needs a scheme, a client and informers")
	}
	if clients.Mapper == nil {
		clients.Mapper = clients.Client.RESTMapper()
	}
	if clients.Registry == nil {
		clients.Registry = crmetrics.Registry
	}

	if clients.Recorder == nil {
		clients.Recorder = &record.FakeRecorder{}
	}

	metrics := reconciler.NewReconcilerMetrics()
	if err := metrics.Register(clients.Registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	op := &Operator{
		id:      uuid.NewString(),
		cfg:     cfg,
		clients: clients,
		metrics: metrics,
	}
	logging.Info("Operator", "Created operator %s watching %s", op.id, namespaceDisplay(cfg.Operator.Namespaces))
	return op, nil
}

// ID returns the instance id of this operator process.
func (op *Operator) ID() string {
	return op.id
}

// Client returns the shared cluster client.
func (op *Operator) Client() client.Client {
	return op.clients.Client
}

// Config returns the operator configuration.
func (op *Operator) Config() config.StewardConfig {
	return op.cfg
}

// Clock returns the clock shared by controllers and timer sources.
func (op *Operator) Clock() clock.WithDelayedExecution {
	if op.clients.Clock == nil {
		return clock.RealClock{}
	}
	return op.clients.Clock
}

// Recorder returns the Kubernetes Event recorder.
func (op *Operator) Recorder() record.EventRecorder {
	return op.clients.Recorder
}

// Metrics returns the reconciler metrics shared by all controllers.
func (op *Operator) Metrics() *reconciler.ReconcilerMetrics {
	return op.metrics
}

// Register creates a controller for r and watches its kind.
//
// The kind is resolved through the scheme and the REST mapper, so a kind
// missing from either, for example because its CRD is not installed, is
// reported as a *reconciler.ConfigurationError. Zero-valued options are
// filled from the configuration of opts.Name. namespaces restricts the watch;
// without it the operator-wide namespaces apply, and an empty set watches
// all namespaces.
func Register[T client.Object](op *Operator, r reconciler.Reconciler[T], prototype T, opts reconciler.Options, namespaces ...string) (*reconciler.Controller[T], error) {
	if opts.Name == "" {
		return nil, &reconciler.ConfigurationError{Reason: "controller name is empty"}
	}

	gvk, err := apiutil.GVKForObject(prototype, op.clients.Scheme)
	if err != nil {
		return nil, &reconciler.ConfigurationError{Controller: opts.Name, Reason: "kind is not registered in the scheme", Err: err}
	}
	mapping, err := op.clients.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		reason := "kind cannot be resolved"
		if meta.IsNoMatchError(err) {
			reason = fmt.Sprintf("no resource for %s, is the CustomResourceDefinition installed?", gvk)
		}
		return nil, &reconciler.ConfigurationError{Controller: opts.Name, Reason: reason, Err: err}
	}

	if len(namespaces) == 0 {
		namespaces = op.cfg.Operator.Namespaces
	}
	if mapping.Scope.Name() == meta.RESTScopeNameRoot {
		namespaces = nil
	}

	opts = op.withConfig(opts)
	ctrl, err := reconciler.NewController(op.clients.Client, r, prototype, opts, reconciler.ControllerConfig{
		Clock:   op.clients.Clock,
		Metrics: op.metrics,
	})
	if err != nil {
		return nil, err
	}

	primary, err := source.NewInformer(source.InformerOptions{
		Name:       PrimarySource,
		Informers:  op.clients.Informers,
		Prototype:  prototype,
		Namespaces: namespaces,
	})
	if err != nil {
		return nil, err
	}
	if err := ctrl.Watch(PrimarySource, primary); err != nil {
		_ = ctrl.Stop()
		return nil, err
	}

	if err := op.add(ctrl); err != nil {
		_ = ctrl.Stop()
		return nil, err
	}

	logging.Info("Operator", "Registered controller %s for %s in %s", opts.Name, gvk, namespaceDisplay(namespaces))
	return ctrl, nil
}

// WatchOwned adds a secondary watch over prototype to ctrl. Changes of
// watched objects are routed to the identities returned by mapFn.
func WatchOwned[T client.Object](op *Operator, ctrl *reconciler.Controller[T], name string, prototype client.Object, mapFn source.MapFunc) error {
	if _, err := apiutil.GVKForObject(prototype, op.clients.Scheme); err != nil {
		return &reconciler.ConfigurationError{Controller: ctrl.Name(), Reason: "watched kind is not registered in the scheme", Err: err}
	}
	secondary, err := source.NewInformer(source.InformerOptions{
		Name:      name,
		Informers: op.clients.Informers,
		Prototype: prototype,
		Map:       mapFn,
	})
	if err != nil {
		return err
	}
	return ctrl.Watch(name, secondary)
}

// withConfig fills zero-valued options from the configuration.
func (op *Operator) withConfig(opts reconciler.Options) reconciler.Options {
	cc := op.cfg.For(opts.Name)
	if opts.Workers == 0 {
		opts.Workers = cc.Workers
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = cc.InitialBackoff.Duration
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = cc.MaxBackoff.Duration
	}
	if opts.ReconcileTimeout == 0 {
		opts.ReconcileTimeout = cc.ReconcileTimeout.Duration
	}
	if opts.FinalizerName == "" {
		opts.FinalizerName = cc.FinalizerName
	}
	return opts
}

func (op *Operator) add(ctrl reconciler.Runnable) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.stopped {
		return errors.New("operator is stopped")
	}
	for _, existing := range op.controllers {
		if existing.Name() == ctrl.Name() {
			return &reconciler.ConfigurationError{Controller: ctrl.Name(), Reason: "a controller with this name is already registered"}
		}
	}
	op.controllers = append(op.controllers, ctrl)

	// Controllers registered after Start begin immediately.
	if op.started && op.ready.Load() {
		return ctrl.Start(op.ctx)
	}
	return nil
}

// Start runs the cache, waits for it to sync, starts every controller and
// serves metrics and health endpoints. It blocks until ctx is cancelled,
// Stop is called or a component fails.
func (op *Operator) Start(ctx context.Context) error {
	metricsServer, err := op.metricsServer()
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.started || op.stopped {
		op.mu.Unlock()
		return errors.New("operator was already started")
	}
	op.started = true
	ctx, op.cancel = context.WithCancel(ctx)
	op.ctx = ctx
	op.mu.Unlock()

	g, gctx := errgroup.WithContext(crlog.IntoContext(ctx, logging.Logr("Operator")))

	g.Go(func() error {
		if err := op.clients.Informers.Start(gctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		// Not every Informers implementation blocks in Start.
		<-gctx.Done()
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}
	if addr := op.cfg.Operator.HealthBindAddress; enabled(addr) {
		g.Go(func() error {
			return op.healthServer(addr).Start(gctx)
		})
	}

	g.Go(func() error {
		syncCtx := gctx
		if timeout := op.cfg.Operator.CacheSyncTimeout.Duration; timeout > 0 {
			var cancel context.CancelFunc
			syncCtx, cancel = context.WithTimeout(gctx, timeout)
			defer cancel()
		}
		if !op.clients.Informers.WaitForCacheSync(syncCtx) {
			if gctx.Err() != nil {
				return nil
			}
			return errors.New("timed out waiting for cache to sync")
		}
		return op.startControllers(gctx)
	})

	logging.Info("Operator", "Starting operator %s", op.id)
	err = g.Wait()
	if stopErr := op.Stop(); stopErr != nil {
		err = multierr.Append(err, stopErr)
	}
	if err != nil {
		logging.Error("Operator", err, "Operator %s stopped", op.id)
		return err
	}
	logging.Info("Operator", "Operator %s stopped", op.id)
	return nil
}

func (op *Operator) startControllers(ctx context.Context) error {
	op.mu.Lock()
	defer op.mu.Unlock()

	for _, ctrl := range op.controllers {
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("controller %s: %w", ctrl.Name(), err)
		}
	}
	op.ready.Store(true)
	logging.Info("Operator", "Started %d controllers", len(op.controllers))
	return nil
}

func enabled(addr string) bool {
	return addr != "" && addr != "0"
}

// metricsServer returns the controller-runtime metrics server for the
// configured address, or nil when metrics are disabled.
func (op *Operator) metricsServer() (metricsserver.Server, error) {
	addr := op.cfg.Operator.MetricsBindAddress
	if !enabled(addr) {
		return nil, nil
	}
	srv, err := metricsserver.NewServer(metricsserver.Options{BindAddress: addr}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	return srv, nil
}

func (op *Operator) healthServer(addr string) *manager.Server {
	shutdownTimeout := 5 * time.Second
	return &manager.Server{
		Name: "health",
		Server: &http.Server{
			Addr:              addr,
			Handler:           op.healthHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ShutdownTimeout: &shutdownTimeout,
	}
}

// healthHandler serves /healthz and /readyz. Readiness waits for the cache
// to sync and every controller to start.
func (op *Operator) healthHandler() http.Handler {
	liveness := &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping": healthz.Ping,
	}}
	readiness := &healthz.Handler{Checks: map[string]healthz.Checker{
		"controllers": op.readyCheck,
	}}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.StripPrefix("/healthz", liveness))
	mux.Handle("/healthz/", http.StripPrefix("/healthz", liveness))
	mux.Handle("/readyz", http.StripPrefix("/readyz", readiness))
	mux.Handle("/readyz/", http.StripPrefix("/readyz", readiness))
	return mux
}

func (op *Operator) readyCheck(*http.Request) error {
	if !op.ready.Load() {
		return errors.New("controllers not started")
	}
	return nil
}

// Stop stops every controller. It is safe to call more than once.
func (op *Operator) Stop() error {
	op.mu.Lock()
	if op.stopped {
		op.mu.Unlock()
		return nil
	}
	op.stopped = true
	op.ready.Store(false)
	cancel := op.cancel
	controllers := append([]reconciler.Runnable(nil), op.controllers...)
	op.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	for _, ctrl := range controllers {
		if stopErr := ctrl.Stop(); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("controller %s: %w", ctrl.Name(), stopErr))
		}
	}
	if op.clients.broadcaster != nil {
		op.clients.broadcaster.Shutdown()
	}
	return err
}

// Ready reports whether the cache synced and all controllers started.
func (op *Operator) Ready() bool {
	return op.ready.Load()
}

// ControllerSummary describes one registered controller.
type ControllerSummary struct {
	Name      string                           `json:"name"`
	Resources int                              `json:"resources"`
	Failing   int                              `json:"failing"`
	Sources   int                              `json:"sources"`
	Statuses  []reconciler.ResourceStatus      `json:"statuses,omitempty"`
	Metrics   *reconciler.ControllerMetricView `json:"metrics,omitempty"`
}

// Summary describes the operator and its controllers.
type Summary struct {
	ID          string                              `json:"id"`
	Ready       bool                                `json:"ready"`
	Controllers []ControllerSummary                 `json:"controllers"`
	Metrics     reconciler.ReconcilerMetricsSummary `json:"metrics"`
}

// Summary returns a snapshot of every controller's state.
func (op *Operator) Summary() Summary {
	op.mu.Lock()
	controllers := append([]reconciler.Runnable(nil), op.controllers...)
	op.mu.Unlock()

	summary := Summary{
		ID:      op.id,
		Ready:   op.ready.Load(),
		Metrics: op.metrics.GetSummary(),
	}
	for _, ctrl := range controllers {
		statuses := ctrl.Statuses()
		sort.Slice(statuses, func(i, j int) bool {
			return statuses[i].ID.String() < statuses[j].ID.String()
		})

		cs := ControllerSummary{
			Name:      ctrl.Name(),
			Resources: len(statuses),
			Sources:   ctrl.Registry().Len(),
			Statuses:  statuses,
		}
		for _, st := range statuses {
			if st.Attempt > 0 {
				cs.Failing++
			}
		}
		if view, ok := op.metrics.GetControllerMetrics(ctrl.Name()); ok {
			cs.Metrics = &view
		}
		summary.Controllers = append(summary.Controllers, cs)
	}
	sort.Slice(summary.Controllers, func(i, j int) bool {
		return summary.Controllers[i].Name < summary.Controllers[j].Name
	})
	return summary
}

func namespaceDisplay(namespaces []string) string {
	if len(namespaces) == 0 {
		return "all namespaces"
	}
	return fmt.Sprintf("namespaces %v", namespaces)
}
