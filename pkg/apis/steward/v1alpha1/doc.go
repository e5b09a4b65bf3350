// Package v1alpha1 contains API Schema definitions for the steward v1alpha1 API group.
//
// # API Group: steward.giantswarm.io/v1alpha1
//
// ## ConfigBundle
//
// ConfigBundle describes a set of key/value pairs that steward materializes as a
// ConfigMap, optionally in a namespace other than the bundle's own. Because owner
// references cannot cross namespaces, the bundle controller holds a finalizer on
// every ConfigBundle so the generated ConfigMap is removed before the bundle goes away.
//
// Example:
//
//	apiVersion: steward.giantswarm.io/v1alpha1
//	kind: ConfigBundle
//	metadata:
//	  name: app-settings
//	  namespace: default
//	spec:
//	  targetNamespace: apps
//	  configMapName: app-settings
//	  resyncInterval: 10m
//	  data:
//	    LOG_LEVEL: info
//	    FEATURE_X: "true"
//
// +kubebuilder:object:generate=true
// +groupName=steward.giantswarm.io
package v1alpha1
