// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Stream frames by kind, decode errors, auth failures and reconnects
//   - Reconciler commits by result
//   - Backfill records by kind and result
//   - Order actions and REST requests by result
//
// All Observe methods are safe on a nil *Metrics so components can run unmetered.
package metrics
