// Package model defines the shared vocabulary of the backtest server:
// orders and their broker-owned states, fills, FIFO positions, market
// ticks (top-of-book quotes or OHLC bars), replay table metadata, and
// metrics reports. It has no dependencies on other internal packages, so
// it can be imported by any layer.
package model
