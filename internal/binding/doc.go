// Package binding ties a job's live channel to the shared query cache.
//
// A Binding holds at most one channel at a time. Events from the channel are
// reconciled against the cached job and written back; invalidations mark
// dependent queries stale. After Close or a rebind returns, the old channel
// can no longer write to the cache.
package binding
