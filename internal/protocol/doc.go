// Package protocol defines the JSON wire surface of the backtest server:
// request and response envelopes, error codes, per-method parameter
// types, and the event payloads emitted during replay. Timestamps on the
// wire are integers in the epoch unit the connection negotiated at init;
// the Codec converts them to and from absolute times.
package protocol
