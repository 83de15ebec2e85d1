// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live channel state, event rates and dropped messages
//   - Reconnect attempts and exhausted retry budgets
//   - Query cache fetches and invalidations
//   - Jobfeed WebSocket clients, published events and HTTP requests
package metrics
