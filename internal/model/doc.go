// Package model defines the shared data types of the DataCure job dashboard.
//
// All types mirror the JSON served by the job service (camelCase fields).
//
// Conventions:
//   - Progress: integer percent, 0-100
//   - Confidence scores: float64 in [0, 1]
//   - Timestamps: ISO 8601 strings, as emitted by the service
//   - IDs: opaque strings
package model
