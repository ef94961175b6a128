package session

import (
	"log/slog"
	"time"

	"github.com/rickgao/backsim/internal/broker"
	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
	"github.com/rickgao/backsim/internal/stats"
)

// Wildcard subscribes a client to every symbol in the replayed table.
const Wildcard = "*"

// Client is one logical trading client on a connection. It owns a
// broker, a subscription set, and three metrics trackers (periodic,
// trade, end-of-day) fed from the shared replay clock.
type Client struct {
	cid    string
	logger *slog.Logger
	conv   epoch.Converter

	broker *broker.Broker
	subs   map[string]struct{}

	periodic *stats.Tracker
	trade    *stats.Tracker
	eod      *stats.Tracker

	periodicPeriod int
	tradeReport    bool
	eodReport      bool

	replayTime time.Time
	eventCount int
	dayIndex   int
	daySeen    bool
	frozen     bool
}

// NewClient creates a client session with a freshly seeded broker.
func NewClient(cid string, cfg model.BacktestConfig, conv epoch.Converter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cid:      cid,
		logger:   logger.With("cid", cid),
		conv:     conv,
		broker:   broker.New(cfg, logger),
		subs:     make(map[string]struct{}),
		periodic: stats.NewTracker(cfg.RiskFree),
		trade:    stats.NewTracker(cfg.RiskFree),
		eod:      stats.NewTracker(cfg.RiskFree),
	}
}

// CID returns the client's connection-scoped identifier.
func (c *Client) CID() string { return c.cid }

// Broker returns the client's broker.
func (c *Client) Broker() *broker.Broker { return c.broker }

// ReplayTime returns the client's current position on the replay clock.
func (c *Client) ReplayTime() time.Time { return c.replayTime }

// SetReplayTime advances the client's replay clock.
func (c *Client) SetReplayTime(ts time.Time) { c.replayTime = ts }

// AddSubscriptions adds symbols to the subscription set and returns the
// ones actually added. During an active replay the set is frozen and the
// call is a no-op returning an empty slice.
func (c *Client) AddSubscriptions(symbols []string) []string {
	if c.frozen {
		return []string{}
	}
	added := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := c.subs[s]; ok {
			continue
		}
		c.subs[s] = struct{}{}
		added = append(added, s)
	}
	return added
}

// RemoveSubscriptions removes symbols and returns the ones actually
// removed. Frozen during an active replay, like AddSubscriptions.
func (c *Client) RemoveSubscriptions(symbols []string) []string {
	if c.frozen {
		return []string{}
	}
	removed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := c.subs[s]; !ok {
			continue
		}
		delete(c.subs, s)
		removed = append(removed, s)
	}
	return removed
}

// Subscriptions returns a copy of the subscription set.
func (c *Client) Subscriptions() []string {
	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	return out
}

// HasWildcard reports whether the client subscribed to all symbols.
func (c *Client) HasWildcard() bool {
	_, ok := c.subs[Wildcard]
	return ok
}

// FilterBatch returns the slice of the batch this client is subscribed
// to. A wildcard subscription passes the batch through untouched.
func (c *Client) FilterBatch(ticks []model.Tick) []model.Tick {
	if c.HasWildcard() {
		return ticks
	}
	var out []model.Tick
	for _, tk := range ticks {
		if _, ok := c.subs[tk.Symbol]; ok {
			out = append(out, tk)
		}
	}
	return out
}

// SetReportFlags snapshots the reporting configuration for a replay.
func (c *Client) SetReportFlags(periodicPeriod int, tradeReport, eodReport bool) {
	c.periodicPeriod = periodicPeriod
	c.tradeReport = tradeReport
	c.eodReport = eodReport
}

// Freeze toggles the subscription freeze held for the duration of a
// replay. Entering a replay also resets the event counter and day
// tracking so consecutive replays start clean.
func (c *Client) Freeze(frozen bool) {
	c.frozen = frozen
	if frozen {
		c.eventCount = 0
		c.daySeen = false
	}
}

// OrderUpdate is the outcome of feeding one batch through the broker.
type OrderUpdate struct {
	Updated []model.OrderState
	Fills   []model.Fill
	Trade   *model.MetricsReport
}

// ProcessOrderUpdate runs the matching pass for the slice of the batch
// that intersects the broker's open symbols. A trade metrics report is
// produced when fills occurred and trade reporting is enabled.
func (c *Client) ProcessOrderUpdate(ticks []model.Tick, snap *model.Snapshot, now time.Time) OrderUpdate {
	relevant := c.broker.FilterOpenSymbols(ticks)
	if len(relevant) == 0 {
		return OrderUpdate{}
	}

	updated, fills := c.broker.ProcessOpenOrders(relevant, now)
	out := OrderUpdate{Updated: updated, Fills: fills}

	if len(fills) > 0 && c.tradeReport {
		c.trade.Update(stats.Equity(c.broker.Position(), snap), now)
		rep := c.trade.Report(model.ReportTrade, now)
		out.Trade = &rep
	}
	return out
}

// ProcessMarketData folds one batch into the periodic and end-of-day
// trackers and returns any metrics reports due. The day rollover check
// runs before the batch is folded in so the end-of-day report covers
// only the previous day; the report itself carries the current batch
// time, keeping the client's event timestamps non-decreasing.
func (c *Client) ProcessMarketData(ticks []model.Tick, snap *model.Snapshot, now time.Time) []model.MetricsReport {
	var reports []model.MetricsReport

	day := c.conv.DayIndex(now)
	if c.daySeen && day > c.dayIndex {
		if c.eodReport {
			reports = append(reports, c.eod.Report(model.ReportEndOfDay, now))
		}
		c.eod.Reset()
	}
	c.dayIndex = day
	c.daySeen = true

	equity := stats.Equity(c.broker.Position(), snap)
	c.periodic.Update(equity, now)
	c.eod.Update(equity, now)

	c.eventCount++
	if c.periodicPeriod > 0 && c.eventCount%c.periodicPeriod == 0 {
		reports = append(reports, c.periodic.Report(model.ReportPeriodic, now))
	}
	return reports
}
