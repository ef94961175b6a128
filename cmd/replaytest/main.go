// replaytest connects to a running backsim server, starts a replay, and
// streams the resulting events to the console.
// Usage: go run ./cmd/replaytest --url ws://localhost:8070/ws --table ticks_1m --from 1709280000000 --to 1709290000000
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/backsim/internal/model"
	"github.com/rickgao/backsim/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8070/ws", "server WebSocket URL")
	cid := flag.String("cid", "replaytest", "client id")
	table := flag.String("table", "", "replay table (empty = first advertised)")
	from := flag.Int64("from", 0, "replay range start (table epoch unit; 0 = table start)")
	to := flag.Int64("to", 0, "replay range end (table epoch unit; 0 = table end)")
	interval := flag.Int64("interval", 0, "pacing between batches in ms")
	cash := flag.Float64("cash", 100000, "initial cash")
	multiplex := flag.Bool("multiplex", false, "request multiplexed market events")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error("dial failed", "url", *url, "error", err)
		os.Exit(1)
	}
	defer ws.Close()
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	c := &client{ws: ws, logger: logger, verbose: *verbose}

	// Discover tables
	initRes, err := c.call("init", "", nil)
	if err != nil {
		logger.Error("init failed", "error", err)
		os.Exit(1)
	}
	var caps protocol.InitResult
	if err := json.Unmarshal(initRes, &caps); err != nil {
		logger.Error("decode init result", "error", err)
		os.Exit(1)
	}
	if len(caps.ReplayTables) == 0 {
		logger.Error("server advertises no replay tables")
		os.Exit(1)
	}
	target := caps.ReplayTables[0]
	for _, ti := range caps.ReplayTables {
		if ti.Name == *table {
			target = ti
		}
	}
	if *from == 0 {
		*from = target.StartTime
	}
	if *to == 0 {
		*to = target.EndTime
	}
	logger.Info("replaying", "table", target.Name, "from", *from, "to", *to)

	if _, err := c.call("login", *cid, protocol.LoginParams{
		Config: model.BacktestConfig{InitialCash: *cash},
	}); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}
	if _, err := c.call("subscribe", *cid, []string{"*"}); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := c.call("replay", "", protocol.ReplayParams{
		Table:           target.Name,
		From:            *from,
		To:              *to,
		ReplayInterval:  *interval,
		ReplayID:        fmt.Sprintf("replaytest-%d", start.Unix()),
		TradeReport:     true,
		EndOfDayReport:  true,
		MarketMultiplex: *multiplex,
	})
	if err != nil {
		logger.Error("replay failed", "error", err)
		os.Exit(1)
	}

	var done protocol.ReplayResult
	if err := json.Unmarshal(res, &done); err != nil {
		logger.Error("decode replay result", "error", err)
		os.Exit(1)
	}
	logger.Info("replay complete",
		"replayId", done.ReplayID,
		"elapsed", time.Since(start),
		"market_events", c.marketEvents,
		"order_events", c.orderEvents,
		"metrics_events", c.metricsEvents,
	)
}

// client is a minimal synchronous protocol client: one request in
// flight, events counted as they stream past.
type client struct {
	ws      *websocket.Conn
	logger  *slog.Logger
	verbose bool
	nextID  int64

	marketEvents  int
	orderEvents   int
	metricsEvents int
}

// call sends one request and reads frames until its response arrives,
// counting event frames along the way.
func (c *client) call(method, cid string, params any) (json.RawMessage, error) {
	c.nextID++
	id := c.nextID

	req := protocol.Request{Method: method, ID: &id, CID: cid}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		if c.verbose {
			fmt.Println(string(raw))
		}

		switch frame.Type {
		case protocol.TypeEvent:
			c.countEvent(frame)
		case protocol.TypeResult:
			if frame.ID != nil && *frame.ID == id {
				return frame.Result, nil
			}
		case protocol.TypeError:
			if frame.ID != nil && *frame.ID == id {
				return nil, fmt.Errorf("%s: %s", frame.Error.Code, frame.Error.Message)
			}
		}
	}
}

func (c *client) countEvent(frame protocol.Frame) {
	if frame.Event == nil {
		return
	}
	switch frame.Event.Kind {
	case protocol.EventMarket:
		c.marketEvents++
	case protocol.EventOrder:
		c.orderEvents++
		for _, fill := range frame.Event.Order.Fill {
			c.logger.Info("fill",
				"order", fill.OrderID,
				"symbol", fill.Symbol,
				"side", fill.Side,
				"price", fill.Price,
				"quantity", fill.Quantity,
			)
		}
	case protocol.EventMetrics:
		c.metricsEvents++
		if frame.Event.Metrics != nil {
			c.logger.Info("metrics",
				"type", frame.Event.Metrics.ReportType,
				"equity", frame.Event.Metrics.Equity,
				"sharpe", frame.Event.Metrics.Sharpe,
				"maxDrawdown", frame.Event.Metrics.MaxDrawdown,
			)
		}
	}
}
