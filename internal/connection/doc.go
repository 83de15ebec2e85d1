// Package connection implements the per-job live channel.
//
// A Manager owns one logical subscription to a job's event stream:
//   - Dials <ws_base>/api/v1/ws/jobs/<job id>
//   - Decodes envelopes and fans them out to listeners in receipt order
//   - Reconnects with jittered exponential backoff after transport failures
//   - Gives up after MaxReconnectAttempts and emits connection_lost
//   - Stops for good after job_completed or job_failed
//
// Transport failures are never returned to callers. They surface as state
// transitions, log lines and metrics.
package connection
