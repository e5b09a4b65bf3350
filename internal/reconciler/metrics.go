package reconciler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"steward/pkg/logging"
)

const metricsNamespace = "steward"

// ReconcilerMetrics tracks dispatch activity per controller.
//
// Counters are exported as Prometheus collectors once Register is called and
// are also kept in memory so the operator can report a summary without
// scraping itself. One instance is shared by all controllers of an operator;
// series are labelled by controller name.
type ReconcilerMetrics struct {
	mu sync.RWMutex

	controllers map[string]*controllerMetrics

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	requeueTotal     *prometheus.CounterVec
	coalescedTotal   *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec
}

// controllerMetrics holds the in-memory counters of one controller.
type controllerMetrics struct {
	Controller         string
	DispatchAttempts   int64
	DispatchSuccesses  int64
	DispatchFailures   int64
	Requeues           int64
	CoalescedEvents    int64
	Removals           int64
	TotalDuration      time.Duration
	LastDispatchAt     time.Time
	LastSuccessAt      time.Time
	LastFailureAt      time.Time
	LastFailureMessage string
}

// NewReconcilerMetrics creates a metrics instance with unregistered collectors.
func NewReconcilerMetrics() *ReconcilerMetrics {
	return &ReconcilerMetrics{
		controllers: make(map[string]*controllerMetrics),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatches by controller and result.",
			},
			[]string{"controller", "result"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of dispatches by controller.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"controller"},
		),
		requeueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requeue_total",
				Help:      "Total number of requeues by controller and kind.",
			},
			[]string{"controller", "kind"},
		),
		coalescedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "coalesced_events_total",
				Help:      "Total number of events merged into an already pending dispatch.",
			},
			[]string{"controller"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_in_flight",
				Help:      "Number of dispatches currently executing.",
			},
			[]string{"controller"},
		),
	}
}

// Register registers the collectors with reg. Collectors another instance
// already registered with reg are shared instead.
func (m *ReconcilerMetrics) Register(reg prometheus.Registerer) error {
	if err := register(reg, &m.dispatchTotal); err != nil {
		return err
	}
	if err := register(reg, &m.dispatchDuration); err != nil {
		return err
	}
	if err := register(reg, &m.requeueTotal); err != nil {
		return err
	}
	if err := register(reg, &m.coalescedTotal); err != nil {
		return err
	}
	return register(reg, &m.inFlight)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			*c = existing
			return nil
		}
	}
	return err
}

func (m *ReconcilerMetrics) getOrCreate(controller string) *controllerMetrics {
	if metrics, exists := m.controllers[controller]; exists {
		return metrics
	}

	metrics := &controllerMetrics{Controller: controller}
	m.controllers[controller] = metrics
	return metrics
}

// DispatchStarted records the start of a dispatch.
func (m *ReconcilerMetrics) DispatchStarted(controller string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(controller).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreate(controller)
	metrics.DispatchAttempts++
	metrics.LastDispatchAt = time.Now()
}

// DispatchFinished records the result of a dispatch.
func (m *ReconcilerMetrics) DispatchFinished(controller string, id ResourceID, control DispatchControl, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(controller).Dec()
	m.dispatchTotal.WithLabelValues(controller, control.Action.String()).Inc()
	m.dispatchDuration.WithLabelValues(controller).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreate(controller)
	metrics.TotalDuration += duration
	if control.Removed {
		metrics.Removals++
	}
	if control.Action == ActionFailed {
		metrics.DispatchFailures++
		metrics.LastFailureAt = time.Now()
		if control.Err != nil {
			metrics.LastFailureMessage = control.Err.Error()
		}
		logging.Debug("ReconcilerMetrics", "Dispatch failure for %s in %s (failures: %d)",
			id, controller, metrics.DispatchFailures)
		return
	}
	metrics.DispatchSuccesses++
	metrics.LastSuccessAt = time.Now()
}

// Requeued records a requeue of the given kind.
func (m *ReconcilerMetrics) Requeued(controller string, kind Action) {
	if m == nil {
		return
	}
	m.requeueTotal.WithLabelValues(controller, kind.String()).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).Requeues++
}

// Coalesced records an event merged into a pending dispatch.
func (m *ReconcilerMetrics) Coalesced(controller string) {
	if m == nil {
		return
	}
	m.coalescedTotal.WithLabelValues(controller).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).CoalescedEvents++
}

// ControllerMetricView is a read-only view of one controller's metrics.
type ControllerMetricView struct {
	Controller         string        `json:"controller"`
	DispatchAttempts   int64         `json:"dispatch_attempts"`
	DispatchSuccesses  int64         `json:"dispatch_successes"`
	DispatchFailures   int64         `json:"dispatch_failures"`
	Requeues           int64         `json:"requeues"`
	CoalescedEvents    int64         `json:"coalesced_events"`
	Removals           int64         `json:"removals"`
	AverageDuration    time.Duration `json:"average_duration"`
	LastDispatchAt     time.Time     `json:"last_dispatch_at,omitempty"`
	LastSuccessAt      time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt      time.Time     `json:"last_failure_at,omitempty"`
	LastFailureMessage string        `json:"last_failure_message,omitempty"`
}

// ReconcilerMetricsSummary provides a summary of dispatch metrics.
type ReconcilerMetricsSummary struct {
	TotalDispatchAttempts  int64                  `json:"total_dispatch_attempts"`
	TotalDispatchSuccesses int64                  `json:"total_dispatch_successes"`
	TotalDispatchFailures  int64                  `json:"total_dispatch_failures"`
	TotalRequeues          int64                  `json:"total_requeues"`
	PerControllerMetrics   []ControllerMetricView `json:"per_controller_metrics"`
	DispatchFailureRate    float64                `json:"dispatch_failure_rate"`
}

// GetControllerMetrics returns the view for one controller.
func (m *ReconcilerMetrics) GetControllerMetrics(controller string) (ControllerMetricView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics, ok := m.controllers[controller]
	if !ok {
		return ControllerMetricView{}, false
	}
	return metrics.view(), true
}

func (c *controllerMetrics) view() ControllerMetricView {
	v := ControllerMetricView{
		Controller:         c.Controller,
		DispatchAttempts:   c.DispatchAttempts,
		DispatchSuccesses:  c.DispatchSuccesses,
		DispatchFailures:   c.DispatchFailures,
		Requeues:           c.Requeues,
		CoalescedEvents:    c.CoalescedEvents,
		Removals:           c.Removals,
		LastDispatchAt:     c.LastDispatchAt,
		LastSuccessAt:      c.LastSuccessAt,
		LastFailureAt:      c.LastFailureAt,
		LastFailureMessage: c.LastFailureMessage,
	}
	if finished := c.DispatchSuccesses + c.DispatchFailures; finished > 0 {
		v.AverageDuration = c.TotalDuration / time.Duration(finished)
	}
	return v
}

// GetSummary returns a snapshot of all metrics.
func (m *ReconcilerMetrics) GetSummary() ReconcilerMetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summary ReconcilerMetricsSummary
	for _, metrics := range m.controllers {
		summary.TotalDispatchAttempts += metrics.DispatchAttempts
		summary.TotalDispatchSuccesses += metrics.DispatchSuccesses
		summary.TotalDispatchFailures += metrics.DispatchFailures
		summary.TotalRequeues += metrics.Requeues
		summary.PerControllerMetrics = append(summary.PerControllerMetrics, metrics.view())
	}
	sort.Slice(summary.PerControllerMetrics, func(i, j int) bool {
		return summary.PerControllerMetrics[i].Controller < summary.PerControllerMetrics[j].Controller
	})

	if finished := summary.TotalDispatchSuccesses + summary.TotalDispatchFailures; finished > 0 {
		summary.DispatchFailureRate = float64(summary.TotalDispatchFailures) / float64(finished)
	}
	return summary
}

// Reset clears the in-memory counters.
func (m *ReconcilerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers = make(map[string]*controllerMetrics)
}
