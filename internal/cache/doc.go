// Package cache implements the shared query cache of the job dashboard.
//
// Entries are addressed by composite keys built from segments. Invalidation
// works on key prefixes: invalidating JobDetail(id) marks the job, its record
// pages, single records and metrics stale in one call.
//
// Stale entries keep their last known value. Readers that go through Fetch
// refetch them; readers that use Get see the last known good data.
package cache
