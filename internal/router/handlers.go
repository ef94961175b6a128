package router

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/backsim/internal/model"
	"github.com/rickgao/backsim/internal/protocol"
	"github.com/rickgao/backsim/internal/replay"
	"github.com/rickgao/backsim/internal/session"
)

func (r *Router) handleInit(ctx context.Context, codec protocol.Codec, req protocol.Request, emit func(protocol.Frame)) {
	tables, err := r.source.Tables(ctx)
	if err != nil {
		r.logger.Error("enumerate tables", "error", err)
		emit(codec.Error(req.ID, req.CID, protocol.CodeDataSourceError, "enumerate tables: "+err.Error()))
		return
	}

	wire := make([]protocol.TableInfo, 0, len(tables))
	for _, info := range tables {
		w, err := protocol.NewTableInfo(info)
		if err != nil {
			r.logger.Error("encode table info", "table", info.Name, "error", err)
			emit(codec.Error(req.ID, req.CID, protocol.CodeInternalError, "internal error"))
			return
		}
		wire = append(wire, w)
	}
	r.result(codec, req, protocol.InitResult{ReplayTables: wire}, emit)
}

func (r *Router) handleLogin(conn *session.Conn, codec protocol.Codec, req protocol.Request, emit func(protocol.Frame)) {
	if req.CID == "" {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidClient, "login requires a cid"))
		return
	}

	var params protocol.LoginParams
	if err := decode(req.Params, &params); err != nil {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "login params: "+err.Error()))
		return
	}
	if err := params.Config.Validate(); err != nil {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "login config: "+err.Error()))
		return
	}

	if _, err := conn.Login(req.CID, params.Config); err != nil {
		switch {
		case errors.Is(err, session.ErrReplayActive):
			emit(codec.Error(req.ID, req.CID, protocol.CodeReplayActive, "login rejected: replay active"))
		case errors.Is(err, session.ErrClientExists):
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "client "+req.CID+" already logged in"))
		default:
			emit(codec.Error(req.ID, req.CID, protocol.CodeInternalError, "internal error"))
		}
		return
	}
	r.result(codec, req, protocol.LoginResult{Connected: true, Timestamp: codec.Conv.FromTime(r.now())}, emit)
}

func (r *Router) handleClient(conn *session.Conn, client *session.Client, codec protocol.Codec, req protocol.Request, emit func(protocol.Frame)) {
	switch req.Method {
	case "logout":
		conn.Logout(client.CID())
		r.result(codec, req, protocol.LoginResult{Connected: false, Timestamp: codec.Conv.FromTime(r.now())}, emit)

	case "subscribe":
		var symbols []string
		if err := decode(req.Params, &symbols); err != nil {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "subscribe params: "+err.Error()))
			return
		}
		r.result(codec, req, client.AddSubscriptions(symbols), emit)

	case "unsubscribe":
		var symbols []string
		if err := decode(req.Params, &symbols); err != nil {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "unsubscribe params: "+err.Error()))
			return
		}
		r.result(codec, req, client.RemoveSubscriptions(symbols), emit)

	case "getPosition":
		r.result(codec, req, codec.Position(client.Broker().Position()), emit)

	case "getOpenOrders":
		open := client.Broker().OpenOrders()
		wire := make([]protocol.OrderState, 0, len(open))
		for _, st := range open {
			wire = append(wire, codec.OrderState(st))
		}
		r.result(codec, req, wire, emit)

	case "submitOrders":
		var orders []model.Order
		if err := decode(req.Params, &orders); err != nil {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "submitOrders params: "+err.Error()))
			return
		}
		now := r.orderClock(client)
		states := client.Broker().Submit(orders, now)
		accepted := 0
		for _, st := range states {
			if st.Status != model.StatusRejected {
				accepted++
			}
		}
		r.result(codec, req, accepted, emit)
		r.emitOrderEvent(codec, client.CID(), now, states, emit)

	case "amendOrders":
		var amends []model.Amend
		if err := decode(req.Params, &amends); err != nil {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "amendOrders params: "+err.Error()))
			return
		}
		now := r.orderClock(client)
		states := client.Broker().Amend(amends, now)
		r.result(codec, req, len(states), emit)
		r.emitOrderEvent(codec, client.CID(), now, states, emit)

	case "cancelOrders":
		var ids []string
		if err := decode(req.Params, &ids); err != nil {
			emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "cancelOrders params: "+err.Error()))
			return
		}
		now := r.orderClock(client)
		states := client.Broker().Cancel(ids, now)
		r.result(codec, req, len(states), emit)
		r.emitOrderEvent(codec, client.CID(), now, states, emit)

	case "cancelAllOrders":
		now := r.orderClock(client)
		states := client.Broker().CancelAll(now)
		r.result(codec, req, len(states), emit)
		r.emitOrderEvent(codec, client.CID(), now, states, emit)
	}
}

func (r *Router) handleReplay(ctx context.Context, conn *session.Conn, codec protocol.Codec, req protocol.Request, emit func(protocol.Frame), interleave func()) {
	var params protocol.ReplayParams
	if err := decode(req.Params, &params); err != nil {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "replay params: "+err.Error()))
		return
	}
	if params.Table == "" {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "replay requires a table"))
		return
	}
	if params.To < params.From {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidParams, "replay range is inverted"))
		return
	}

	tables, err := r.source.Tables(ctx)
	if err != nil {
		emit(codec.Error(req.ID, req.CID, protocol.CodeDataSourceError, "enumerate tables: "+err.Error()))
		return
	}
	if len(tables) == 0 {
		emit(codec.Error(req.ID, req.CID, protocol.CodeNoReplayTable, "no replay tables configured"))
		return
	}
	known := false
	for _, info := range tables {
		if info.Name == params.Table {
			known = true
			break
		}
	}
	if !known {
		emit(codec.Error(req.ID, req.CID, protocol.CodeInvalidTable, "table "+params.Table+" is not replayable"))
		return
	}

	p := replay.Params{
		Table:           params.Table,
		From:            codec.Conv.ToTime(params.From),
		To:              codec.Conv.ToTime(params.To),
		Interval:        time.Duration(params.ReplayInterval) * time.Millisecond,
		ReplayID:        params.ReplayID,
		PeriodicReport:  params.PeriodicReport,
		TradeReport:     params.TradeReport,
		EndOfDayReport:  params.EndOfDayReport,
		MarketMultiplex: params.MarketMultiplex,
	}

	res, err := r.runner.Run(ctx, conn, p, emit, interleave)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReplayAlreadyActive):
			emit(codec.Error(req.ID, req.CID, protocol.CodeReplayAlreadyActive, "replay already active"))
		case errors.Is(err, replay.ErrSourceOpen):
			emit(codec.Error(req.ID, req.CID, protocol.CodeDataSourceError, err.Error()))
		default:
			emit(codec.Error(req.ID, req.CID, protocol.CodeReplayError, err.Error()))
		}
		return
	}
	r.result(codec, req, protocol.ReplayResult{
		ReplayID: res.ReplayID,
		Begin:    codec.Conv.FromTime(res.Begin),
		End:      codec.Conv.FromTime(res.End),
	}, emit)
}

// orderClock timestamps order operations: replay time once streaming
// has started, wall clock before.
func (r *Router) orderClock(client *session.Client) time.Time {
	if ts := client.ReplayTime(); !ts.IsZero() {
		return ts
	}
	return r.now()
}

// emitOrderEvent mirrors the returned states on the event channel so
// order-domain rejections surface without failing the request.
func (r *Router) emitOrderEvent(codec protocol.Codec, cid string, now time.Time, states []model.OrderState, emit func(protocol.Frame)) {
	if len(states) == 0 {
		return
	}
	emit(codec.OrderEvent(cid, now, states, nil))
}
