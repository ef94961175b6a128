// Package router parses inbound request envelopes and routes them to
// per-method handlers: connection-scoped (init, replay) and
// client-scoped (login through cancelAllOrders). Handlers never panic
// out of Dispatch; failures surface as structured error frames.
package router
