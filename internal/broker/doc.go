// Package broker implements the per-client backtest broker: an order
// lifecycle state machine that matches open orders against replayed
// quotes or bars, applies slippage and commission, and maintains FIFO
// long/short position accounting.
//
// A broker is a single-writer structure owned by one client session; all
// operations are synchronous and atomic. It never returns errors:
// order-domain problems surface as REJECTED states.
package broker
