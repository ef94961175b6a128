// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active WebSocket connections and per-method request rates
//   - Active replays and streamed batch counts
//   - Outbound frame throughput
package metrics
