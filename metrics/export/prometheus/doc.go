// Package prometheus exposes authenticator metrics as a Prometheus collector.
//
// [NewCollector] reads [authsession.Authenticator.MetricsSnapshot] on every
// scrape and emits const metrics, so no state is duplicated. Counter names
// are prefixed authsession_*_total; the single histogram is
// authsession_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry. Callers pick the registry.
//   - Mutate authenticator state.
package prometheus
