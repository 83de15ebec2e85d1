// Package dashboard provides cached, fallback-aware queries over the job
// service.
//
// Every read goes through the shared query cache with a per-query stale
// time. When the service is unreachable, list and metrics queries return
// data from a Fallback and label it with Sample set, so callers can tell
// live data from placeholder data. Single-item queries return not-found
// errors as is.
package dashboard
