// Package database opens the SQL store shared by the outbox and the content
// repository.
//
// Two dialects are supported: SQLite through modernc.org/sqlite (the default,
// single-host deployments) and Postgres through lib/pq. Queries are written
// with ? placeholders and rebound per dialect. The embedded schema for each
// dialect is applied on first open and guarded by a schema_version row;
// SQLITE_BUSY errors are retried with a short exponential backoff.
package database
