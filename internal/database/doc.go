// Package database provides connection pool management for the
// PostgreSQL (or TimescaleDB) instance that holds the replay tables.
// One pool is shared by every connected client; per-connection state
// never touches the database directly.
package database
