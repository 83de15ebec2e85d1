// Package store persists validation jobs and their provider records for the
// jobfeed server.
//
// Two implementations exist: Memory here, and the Postgres-backed store in
// package database. Both satisfy JobStore.
package store
