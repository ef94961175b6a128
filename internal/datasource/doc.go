// Package datasource abstracts the historical tables a replay streams
// from. A Source enumerates replayable tables and opens time-ordered
// batch iterators; each batch holds exactly the rows sharing one distinct
// epoch. The Postgres implementation streams rows through a shared pgx
// pool; the Memory implementation backs tests and fixtures.
package datasource
