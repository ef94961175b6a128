package session

import (
	"errors"
	"log/slog"

	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
)

var (
	// ErrReplayActive rejects logins while a replay is streaming.
	ErrReplayActive = errors.New("replay active")
	// ErrReplayAlreadyActive rejects a second replay on one connection.
	ErrReplayAlreadyActive = errors.New("replay already active")
	// ErrClientExists rejects a login reusing a live cid.
	ErrClientExists = errors.New("client already logged in")
)

// Conn is the per-transport session: the set of logical clients keyed
// by cid, the connection's time representation, and the single
// active-replay slot. Clients iterate in login order so replay fan-out
// is deterministic.
type Conn struct {
	logger *slog.Logger
	conv   epoch.Converter

	clients map[string]*Client
	order   []string

	replayActive bool
}

// NewConn creates an empty connection session using the given time
// representation for day rollovers and wire timestamps.
func NewConn(conv epoch.Converter, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		logger:  logger,
		conv:    conv,
		clients: make(map[string]*Client),
	}
}

// Converter returns the connection's negotiated time representation.
func (cn *Conn) Converter() epoch.Converter { return cn.conv }

// Login creates a client session for cid. Logins are rejected while a
// replay is active; sessions must be prepared before streaming starts.
func (cn *Conn) Login(cid string, cfg model.BacktestConfig) (*Client, error) {
	if cn.replayActive {
		return nil, ErrReplayActive
	}
	if _, ok := cn.clients[cid]; ok {
		return nil, ErrClientExists
	}
	c := NewClient(cid, cfg, cn.conv, cn.logger)
	cn.clients[cid] = c
	cn.order = append(cn.order, cid)
	cn.logger.Info("client logged in", "cid", cid)
	return c, nil
}

// Logout destroys the client session for cid, reporting whether it
// existed.
func (cn *Conn) Logout(cid string) bool {
	if _, ok := cn.clients[cid]; !ok {
		return false
	}
	delete(cn.clients, cid)
	for i, id := range cn.order {
		if id == cid {
			cn.order = append(cn.order[:i], cn.order[i+1:]...)
			break
		}
	}
	cn.logger.Info("client logged out", "cid", cid)
	return true
}

// Client looks up a live client by cid.
func (cn *Conn) Client(cid string) (*Client, bool) {
	c, ok := cn.clients[cid]
	return c, ok
}

// Clients returns the live clients in login order.
func (cn *Conn) Clients() []*Client {
	out := make([]*Client, 0, len(cn.order))
	for _, cid := range cn.order {
		out = append(out, cn.clients[cid])
	}
	return out
}

// ReplayActive reports whether a replay is streaming on this connection.
func (cn *Conn) ReplayActive() bool { return cn.replayActive }

// BeginReplay claims the connection's replay slot and freezes every
// client's subscription set.
func (cn *Conn) BeginReplay() error {
	if cn.replayActive {
		return ErrReplayAlreadyActive
	}
	cn.replayActive = true
	for _, c := range cn.Clients() {
		c.Freeze(true)
	}
	return nil
}

// EndReplay releases the replay slot and thaws subscriptions. Safe to
// call when no replay is active.
func (cn *Conn) EndReplay() {
	cn.replayActive = false
	for _, c := range cn.Clients() {
		c.Freeze(false)
	}
}

// Close releases all client state on transport close.
func (cn *Conn) Close() {
	cn.clients = make(map[string]*Client)
	cn.order = nil
	cn.replayActive = false
}
