package config

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"steward/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks cfg and returns a *ConfigurationErrorCollection listing
// every problem, or nil. filePath is only used for reporting.
func Validate(cfg StewardConfig, filePath string) error {
	var errs ValidationErrors

	validateOperator(&errs, cfg.Operator)
	validateController(&errs, "defaults", cfg.Defaults, true)

	names := make([]string, 0, len(cfg.Controllers))
	for name := range cfg.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := "controllers." + name
		if msgs := validation.IsDNS1123Subdomain(name); len(msgs) > 0 {
			errs.Add(field, "has an invalid controller name: "+strings.Join(msgs, ", "), name)
		}
		validateController(&errs, field, cfg.Controllers[name], false)

		effective := cfg.For(name)
		if effective.InitialBackoff.Duration > effective.MaxBackoff.Duration {
			errs.Add(field+".initialBackoff", "must not exceed maxBackoff", effective.InitialBackoff.Duration)
		}
	}

	if _, ok := logging.ParseLevel(cfg.Logging.Level); !ok {
		errs.Add("logging.level", "must be one of: debug, info, warn, error", cfg.Logging.Level)
	}

	if !errs.HasErrors() {
		return nil
	}

	collection := NewConfigurationErrorCollection()
	for _, ve := range errs {
		collection.Add(NewConfigurationError(filePath, ve.Field, "validation", ve.Message))
	}
	return collection
}

func validateOperator(errs *ValidationErrors, op OperatorConfig) {
	for i, ns := range op.Namespaces {
		if msgs := validation.IsDNS1123Label(ns); len(msgs) > 0 {
			errs.Add(fmt.Sprintf("operator.namespaces[%d]", i), "is not a valid namespace: "+strings.Join(msgs, ", "), ns)
		}
	}
	if err := ValidateBindAddress(op.MetricsBindAddress); err != nil {
		errs.Add("operator.metricsBindAddress", err.Error(), op.MetricsBindAddress)
	}
	if err := ValidateBindAddress(op.HealthBindAddress); err != nil {
		errs.Add("operator.healthBindAddress", err.Error(), op.HealthBindAddress)
	}
	if op.CacheSyncTimeout.Duration < 0 {
		errs.Add("operator.cacheSyncTimeout", "must not be negative", op.CacheSyncTimeout.Duration)
	}
}

// validateController checks one controller block. Defaults must be complete,
// overrides may leave fields at zero to inherit them.
func validateController(errs *ValidationErrors, prefix string, c ControllerConfig, complete bool) {
	if c.Workers < 0 {
		errs.Add(prefix+".workers", "must not be negative", c.Workers)
	}
	if c.InitialBackoff.Duration < 0 || (complete && c.InitialBackoff.Duration == 0) {
		errs.Add(prefix+".initialBackoff", "must be positive", c.InitialBackoff.Duration)
	}
	if c.MaxBackoff.Duration < 0 || (complete && c.MaxBackoff.Duration == 0) {
		errs.Add(prefix+".maxBackoff", "must be positive", c.MaxBackoff.Duration)
	}
	if complete && c.InitialBackoff.Duration > c.MaxBackoff.Duration {
		errs.Add(prefix+".initialBackoff", "must not exceed maxBackoff", c.InitialBackoff.Duration)
	}
	if c.ReconcileTimeout.Duration < 0 {
		errs.Add(prefix+".reconcileTimeout", "must not be negative", c.ReconcileTimeout.Duration)
	}
	if c.ResyncInterval.Duration < 0 {
		errs.Add(prefix+".resyncInterval", "must not be negative", c.ResyncInterval.Duration)
	}
	if c.FinalizerName != "" || complete {
		if err := ValidateFinalizerName(c.FinalizerName); err != nil {
			errs.Add(prefix+".finalizerName", err.Error(), c.FinalizerName)
		}
	}
}

// ValidateFinalizerName checks that name is a domain-qualified finalizer.
func ValidateFinalizerName(name string) error {
	if !strings.Contains(name, "/") {
		return fmt.Errorf("must be domain-qualified, e.g. %s", DefaultFinalizerName)
	}
	if msgs := validation.IsQualifiedName(name); len(msgs) > 0 {
		return fmt.Errorf("is not a valid finalizer name: %s", strings.Join(msgs, ", "))
	}
	return nil
}

// ValidateBindAddress accepts host:port, :port and "0" (disabled).
func ValidateBindAddress(addr string) error {
	if addr == "" || addr == "0" {
		return nil
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("must be host:port or \"0\": %v", err)
	}
	return nil
}
