package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/rickgao/backsim/internal/datasource"
	"github.com/rickgao/backsim/internal/metrics"
	"github.com/rickgao/backsim/internal/model"
	"github.com/rickgao/backsim/internal/protocol"
	"github.com/rickgao/backsim/internal/session"
)

// ErrSourceOpen marks failures to open the table iterator, as opposed
// to failures while streaming.
var ErrSourceOpen = errors.New("open replay source")

// Params is the validated form of a replay request.
type Params struct {
	Table           string
	From            time.Time
	To              time.Time
	Interval        time.Duration
	ReplayID        string
	PeriodicReport  int
	TradeReport     bool
	EndOfDayReport  bool
	MarketMultiplex bool
}

// Result closes out a completed replay with wall-clock bounds.
type Result struct {
	ReplayID string
	Begin    time.Time
	End      time.Time
}

// Runner streams replays from a shared datasource. One Runner serves
// all connections; per-replay state lives on the stack of Run.
type Runner struct {
	source  datasource.Source
	metrics *metrics.Metrics
	logger  *slog.Logger

	// wall clock, swapped out by tests
	now func() time.Time
}

// NewRunner creates a Runner over the given source. m may be nil.
func NewRunner(source datasource.Source, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{source: source, metrics: m, logger: logger, now: time.Now}
}

// Run executes one replay on a connection, emitting event frames
// through emit. It claims the connection's replay slot for the
// duration and always releases it, along with the iterator, on every
// exit path. Frames are emitted in strict batch order; the caller's
// emit must preserve that order on the transport.
//
// Run is cooperative: everything happens on the caller's goroutine,
// and interleave (when non-nil) is invoked between batches so queued
// requests on the same connection can be served mid-replay.
func (r *Runner) Run(ctx context.Context, conn *session.Conn, p Params, emit func(protocol.Frame), interleave func()) (Result, error) {
	if err := conn.BeginReplay(); err != nil {
		return Result{}, err
	}
	r.metrics.ReplayStarted()
	defer func() {
		conn.EndReplay()
		r.metrics.ReplayEnded()
	}()

	clients := conn.Clients()
	for _, c := range clients {
		c.SetReportFlags(p.PeriodicReport, p.TradeReport, p.EndOfDayReport)
	}

	filter := subscriptionUnion(clients)

	it, err := r.source.Open(ctx, p.Table, p.From, p.To, filter)
	if err != nil {
		return Result{}, fmt.Errorf("%w: table %s: %v", ErrSourceOpen, p.Table, err)
	}
	defer it.Close()

	begin := r.now()
	codec := protocol.NewCodec(conn.Converter())
	snap := model.NewSnapshot()

	r.logger.Info("replay started",
		"replayId", p.ReplayID,
		"table", p.Table,
		"clients", len(clients),
		"symbols", len(filter),
		"multiplex", p.MarketMultiplex,
	)

	batches := 0
	for {
		batch, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			r.logger.Error("replay stream failed", "replayId", p.ReplayID, "batches", batches, "error", err)
			return Result{}, fmt.Errorf("stream table %s: %w", p.Table, err)
		}
		batches++
		r.metrics.Batch()

		snap.Merge(batch.Timestamp, batch.Ticks)
		for _, c := range clients {
			c.SetReplayTime(batch.Timestamp)
		}

		// Phase 1: every client's broker pass completes before any
		// client sees the market observation that caused its fills.
		for _, c := range clients {
			out := c.ProcessOrderUpdate(batch.Ticks, snap, batch.Timestamp)
			if len(out.Updated) > 0 {
				emit(codec.OrderEvent(c.CID(), batch.Timestamp, out.Updated, out.Fills))
			}
			if out.Trade != nil {
				emit(codec.MetricsEvent(c.CID(), *out.Trade))
			}
		}

		// Phase 2: market data and metrics.
		for _, c := range clients {
			slice := c.FilterBatch(batch.Ticks)
			if !p.MarketMultiplex && len(slice) == 0 {
				continue
			}
			for _, rep := range c.ProcessMarketData(slice, snap, batch.Timestamp) {
				emit(codec.MetricsEvent(c.CID(), rep))
			}
			if !p.MarketMultiplex {
				emit(codec.MarketEvent(c.CID(), batch.Timestamp, slice))
			}
		}
		if p.MarketMultiplex {
			emit(codec.MarketEvent(protocol.MultiplexCID, batch.Timestamp, batch.Ticks))
		}

		if p.Interval > 0 {
			select {
			case <-time.After(p.Interval):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if interleave != nil {
			interleave()
		}
	}

	end := r.now()
	r.logger.Info("replay finished", "replayId", p.ReplayID, "batches", batches, "elapsed", end.Sub(begin))
	return Result{ReplayID: p.ReplayID, Begin: begin, End: end}, nil
}

// subscriptionUnion computes the symbol filter passed to the
// datasource: the sorted union of every client's subscriptions, or nil
// (no filter) when any client holds a wildcard.
func subscriptionUnion(clients []*session.Client) []string {
	set := make(map[string]struct{})
	for _, c := range clients {
		if c.HasWildcard() {
			return nil
		}
		for _, s := range c.Subscriptions() {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
