// Package replay drives one historical table through every client on a
// connection: it opens a datasource iterator, advances the shared
// replay clock batch by batch, runs each client's broker pass before
// any market data is delivered, and paces emission in real time.
package replay
