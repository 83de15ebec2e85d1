// Package envelope defines the wire contract of the live job channel.
//
// Every message pushed by the server is a JSON object with a "type"
// discriminant and a type-specific "data" payload:
//
//	{"type": "progress_update", "data": {"progress": 55, "completedRecords": 550}}
//
// Recognised types are progress_update, record_completed, agent_log,
// job_completed and job_failed. Unknown types decode to ErrUnknownType so newer
// servers can add event kinds without breaking older clients.
//
// connection_lost is never read from the wire. The connection manager
// synthesises it once reconnect attempts are exhausted.
package envelope
