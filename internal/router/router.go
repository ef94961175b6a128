package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rickgao/backsim/internal/datasource"
	"github.com/rickgao/backsim/internal/metrics"
	"github.com/rickgao/backsim/internal/protocol"
	"github.com/rickgao/backsim/internal/replay"
	"github.com/rickgao/backsim/internal/session"
)

// Router dispatches request frames for all connections. It is
// stateless; per-connection state arrives as the *session.Conn.
type Router struct {
	source  datasource.Source
	runner  *replay.Runner
	metrics *metrics.Metrics
	logger  *slog.Logger

	// wall clock, swapped out by tests
	now func() time.Time
}

// New creates a Router over the shared datasource and replay runner.
// m may be nil.
func New(source datasource.Source, runner *replay.Runner, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{source: source, runner: runner, metrics: m, logger: logger, now: time.Now}
}

// Dispatch handles one inbound text frame. Responses and events are
// written through emit, which must preserve call order on the
// transport. interleave is forwarded to the replay loop so queued
// requests can be served between batches; it may be nil.
//
// Dispatch never panics: internal failures are logged and answered
// with an INTERNAL_ERROR frame.
func (r *Router) Dispatch(ctx context.Context, conn *session.Conn, data []byte, emit func(protocol.Frame), interleave func()) {
	codec := protocol.NewCodec(conn.Converter())

	var req protocol.Request
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panic", "method", req.Method, "cid", req.CID, "panic", p)
			emit(codec.Error(req.ID, req.CID, protocol.CodeInternalError, "internal error"))
		}
	}()

	if err := json.Unmarshal(data, &req); err != nil {
		emit(codec.Error(nil, "", protocol.CodeInvalidParams, "malformed request: "+err.Error()))
		return
	}
	if req.ID == nil {
		emit(codec.Error(nil, req.CID, protocol.CodeInvalidParams, "missing request id"))
		return
	}
	r.metrics.Request(req.Method)

	switch req.Method {
	case "init":
		r.handleInit(ctx, codec, req, emit)
	case "replay":
		r.handleReplay(ctx, conn, codec, req, emit, interleave)
	case "login":
		r.handleLogin(conn, codec, req, emit)
	case "logout", "subscribe", "unsubscribe",
		"getPosition", "getOpenOrders",
		"submitOrders", "amendOrders", "cancelOrders", "cancelAllOrders":
		client, ok := conn.Client(req.CID)
		if req.CID == "" || !ok {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidClient, "unknown client "+req.CID))
			return
		}
		r.handleClient(conn, client, codec, req, emit)
	default:
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidMethod, "unknown method "+req.Method))
	}
}

// decode unmarshals method params, treating absent params as empty.
func decode[T any](raw json.RawMessage, out *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// result marshals v and emits it, downgrading marshal failures to an
// internal error frame.
func (r *Router) result(codec protocol.Codec, req protocol.Request, v any, emit func(protocol.Frame)) {
	frame, err := codec.Result(*req.ID, req.CID, v)
	if err != nil {
		r.logger.Error("marshal result", "method", req.Method, "error", err)
		emit(codec.Error(req.ID, req.CID, protocol.CodeInternalError, "internal error"))
		return
	}
	emit(frame)
}
