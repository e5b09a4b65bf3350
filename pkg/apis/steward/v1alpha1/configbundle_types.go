package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// ConfigBundleFinalizer is held on every ConfigBundle until its ConfigMap is removed.
	ConfigBundleFinalizer = "steward.giantswarm.io/configbundle"

	// PhaseSynced means the ConfigMap matches the bundle.
	PhaseSynced = "Synced"

	// PhaseError means the last reconciliation attempt failed.
	PhaseError = "Error"
)

// ConfigBundleSpec defines the desired state of ConfigBundle
type ConfigBundleSpec struct {
	// Data holds the key/value pairs written to the generated ConfigMap.
	Data map[string]string `json:"data,omitempty" yaml:"data,omitempty"`

	// TargetNamespace is the namespace of the generated ConfigMap.
	// Defaults to the ConfigBundle's namespace.
	// +kubebuilder:validation:MaxLength=63
	TargetNamespace string `json:"targetNamespace,omitempty" yaml:"targetNamespace,omitempty"`

	// ConfigMapName is the name of the generated ConfigMap.
	// Defaults to the ConfigBundle's name.
	// +kubebuilder:validation:MaxLength=253
	ConfigMapName string `json:"configMapName,omitempty" yaml:"configMapName,omitempty"`

	// SourcePath points to a YAML file on the controller's filesystem whose top-level
	// string values are merged into Data. Keys in Data win over keys from the file.
	// Changes to the file trigger a reconciliation.
	SourcePath string `json:"sourcePath,omitempty" yaml:"sourcePath,omitempty"`

	// ResyncInterval forces a periodic reconciliation even without changes.
	ResyncInterval *metav1.Duration `json:"resyncInterval,omitempty" yaml:"resyncInterval,omitempty"`
}

// ConfigBundleStatus defines the observed state of ConfigBundle
type ConfigBundleStatus struct {
	// ObservedGeneration is the generation last written to the ConfigMap.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// Phase is the result of the last reconciliation.
	// +kubebuilder:validation:Enum=Synced;Error
	Phase string `json:"phase,omitempty" yaml:"phase,omitempty"`

	// Keys is the number of keys in the generated ConfigMap.
	Keys int `json:"keys,omitempty" yaml:"keys,omitempty"`

	// LastSyncTime is when the ConfigMap was last written.
	LastSyncTime *metav1.Time `json:"lastSyncTime,omitempty" yaml:"lastSyncTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=cb
// +kubebuilder:printcolumn:name="Target",type="string",JSONPath=".spec.targetNamespace"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Keys",type="integer",JSONPath=".status.keys"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// ConfigBundle is the Schema for the configbundles API
type ConfigBundle struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ConfigBundleSpec   `json:"spec,omitempty"`
	Status ConfigBundleStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ConfigBundleList contains a list of ConfigBundle
type ConfigBundleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ConfigBundle `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ConfigBundle{}, &ConfigBundleList{})
}
