// Package simulator runs validation jobs for the jobfeed server.
//
// A submitted job is persisted as queued with its generated provider records,
// then processed record by record in the background:
//   - progress_update after every record
//   - record_completed after every 5th record
//   - agent_log when each validation agent starts its pass
//   - job_completed at the end, or job_failed if processing stops
package simulator
