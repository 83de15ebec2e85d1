// Package server is the jobfeed HTTP surface: the REST job service under
// /api/v1 and the per-job WebSocket event channel.
package server
