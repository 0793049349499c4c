// Package pg wires PostgreSQL into the service: pool creation with retries,
// goose migrations from an embedded filesystem, transaction helpers, error
// classification for SQLSTATE codes, and a readiness probe.
package pg
