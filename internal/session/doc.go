// Package session holds the per-connection state of the backtest server:
// a Conn owning the set of logical clients multiplexed over one
// transport, and a Client owning one strategy's broker, subscriptions,
// and metrics trackers. Sessions are single-writer; all access happens
// on the connection's dispatch goroutine.
package session
