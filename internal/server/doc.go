// Package server terminates WebSocket transports. Each connection gets
// a read loop, a serial dispatch loop, and a single write loop joined
// by growable FIFO queues, so frame order on the wire matches dispatch
// order and replay emission never blocks request intake.
package server
