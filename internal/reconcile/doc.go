// Package reconcile turns live channel events into cache patches.
//
// Reconcile is pure: it reads the cached view of a job, never the cache
// itself, and returns the next view plus the keys to invalidate.
package reconcile
