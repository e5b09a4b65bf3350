// Package configbundle implements the ConfigBundle controller.
//
// A ConfigBundle renders into one ConfigMap. Its keys come from
// Spec.Data, merged over the top-level scalar values of the YAML file at
// Spec.SourcePath when one is set. The ConfigMap carries owner labels
// instead of an owner reference because it may live in another namespace,
// and a finalizer on the bundle guarantees it is removed.
//
// Each bundle gets up to two per-resource event sources: a file watch on
// Spec.SourcePath and a resync timer. Both track the bundle spec and are replaced
// when it changes.
package configbundle
