// Package operator hosts reconciler controllers inside one process.
//
// An Operator owns the scheme, the shared informer cache and the client.
// Controllers are added with Register, which resolves the reconciled kind
// through the scheme and the REST mapper before anything is started, and
// extra watches are added with WatchOwned.
//
// Start runs the cache, waits for it to sync and then starts every
// controller. It also serves Prometheus metrics on /metrics and the
// /healthz and /readyz endpoints. /readyz turns healthy once all controllers
// are running.
package operator
