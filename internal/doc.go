// Package internal holds the private building blocks of authsession.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: viper-backed service configuration loading
//   - flows: pure-function state machines for every Authenticator operation
//   - metrics: lock-free counters and latency histograms
//   - obs: zap logger construction and the metrics/health listener
//   - rate: Redis-backed refresh throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public authsession API.
//   - Be imported by any package outside the authsession module.
package internal
