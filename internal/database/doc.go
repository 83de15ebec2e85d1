// Package database provides the Postgres-backed job store for the jobfeed
// server.
//
// Jobs and provider records live in two tables created by Migrate:
//   - jobs: one row per validation job, ordered by insertion
//   - provider_records: records per job, ordered by processing position
package database
