package model

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Effect tags whether an order opens or closes a long/short lot. It drives
// FIFO position accounting on fills.
type Effect string

const (
	OpenLong   Effect = "OPEN_LONG"
	CloseLong  Effect = "CLOSE_LONG"
	OpenShort  Effect = "OPEN_SHORT"
	CloseShort Effect = "CLOSE_SHORT"
)

// OrderType enumerates the supported order kinds. STOP and STOP_LIMIT
// convert to MARKET and LIMIT respectively when their stop price triggers.
type OrderType string

const (
	Market    OrderType = "MARKET"
	Limit     OrderType = "LIMIT"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus is the lifecycle state of a broker-owned order.
// CANCELLED, REJECTED, and FILLED are terminal.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// ReportType distinguishes the three metrics report flavors.
type ReportType string

const (
	ReportPeriodic ReportType = "PERIODIC"
	ReportTrade    ReportType = "TRADE"
	ReportEndOfDay ReportType = "ENDOFDAY"
)

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// Order is the client-supplied order request. IDs are client-assigned and
// must be unique within a broker.
type Order struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Effect    Effect    `json:"effect"`
	Type      OrderType `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price,omitempty"`     // LIMIT / STOP_LIMIT
	StopPrice float64   `json:"stopPrice,omitempty"` // STOP / STOP_LIMIT
}

// Validate checks the order's static constraints. A failing order is
// surfaced as a REJECTED state, never as a request error.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if o.Symbol == "" {
		return fmt.Errorf("order %s: symbol is required", o.ID)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s: quantity must be > 0", o.ID)
	}
	switch o.Type {
	case Market:
	case Limit:
		if o.Price <= 0 {
			return fmt.Errorf("order %s: limit price must be > 0", o.ID)
		}
	case Stop:
		if o.StopPrice <= 0 {
			return fmt.Errorf("order %s: stop price must be > 0", o.ID)
		}
	case StopLimit:
		if o.Price <= 0 || o.StopPrice <= 0 {
			return fmt.Errorf("order %s: stop-limit requires price and stop price", o.ID)
		}
	default:
		return fmt.Errorf("order %s: unknown type %q", o.ID, o.Type)
	}
	switch o.Side {
	case Buy:
		if o.Effect != OpenLong && o.Effect != CloseShort {
			return fmt.Errorf("order %s: BUY requires OPEN_LONG or CLOSE_SHORT", o.ID)
		}
	case Sell:
		if o.Effect != CloseLong && o.Effect != OpenShort {
			return fmt.Errorf("order %s: SELL requires CLOSE_LONG or OPEN_SHORT", o.ID)
		}
	default:
		return fmt.Errorf("order %s: unknown side %q", o.ID, o.Side)
	}
	return nil
}

// Amend is a partial update to an open order. Nil fields are untouched.
type Amend struct {
	ID        string   `json:"id"`
	Price     *float64 `json:"price,omitempty"`
	StopPrice *float64 `json:"stopPrice,omitempty"`
	Quantity  *float64 `json:"quantity,omitempty"`
}

// OrderState is the broker-owned superset of an Order.
//
// Invariants while open: FilledQuantity + RemainingQuantity == Quantity,
// and Status is OPEN or PARTIAL. Terminal states never re-enter the
// open-orders map.
type OrderState struct {
	Order
	FilledQuantity    float64     `json:"filledQuantity"`
	RemainingQuantity float64     `json:"remainingQuantity"`
	Status            OrderStatus `json:"status"`
	Reason            string      `json:"reason,omitempty"` // populated on REJECTED
	Modified          time.Time   `json:"-"`
}

// Fill records one execution against the replayed data.
type Fill struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	Created    time.Time `json:"-"`
}

// -----------------------------------------------------------------------------
// Positions
// -----------------------------------------------------------------------------

// Lot is one FIFO entry in a long or short queue. TotalCost accumulates
// entry cost for longs; for shorts it holds total proceeds.
type Lot struct {
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	TotalCost float64 `json:"totalCost"`
}

// Position is the per-client account. Cash may go negative; that
// represents margin usage and is left to the caller's discretion.
type Position struct {
	Cash            float64          `json:"cash"`
	Long            map[string][]Lot `json:"long"`
	Short           map[string][]Lot `json:"short"`
	TotalCommission float64          `json:"totalCommission"`
	RealisedPnL     float64          `json:"realisedPnL"`
	Modified        time.Time        `json:"-"`
}

// NewPosition seeds a position with initial cash.
func NewPosition(initialCash float64) *Position {
	return &Position{
		Cash:  initialCash,
		Long:  make(map[string][]Lot),
		Short: make(map[string][]Lot),
	}
}

// Clone returns a deep copy, safe to hand to a caller.
func (p *Position) Clone() *Position {
	cp := &Position{
		Cash:            p.Cash,
		Long:            make(map[string][]Lot, len(p.Long)),
		Short:           make(map[string][]Lot, len(p.Short)),
		TotalCommission: p.TotalCommission,
		RealisedPnL:     p.RealisedPnL,
		Modified:        p.Modified,
	}
	for sym, lots := range p.Long {
		cp.Long[sym] = append([]Lot(nil), lots...)
	}
	for sym, lots := range p.Short {
		cp.Short[sym] = append([]Lot(nil), lots...)
	}
	return cp
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

// Bar is the OHLC payload of a bar-mode tick.
type Bar struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Tick is one row of replayed market data: either a top-of-book quote
// (Bar nil) or an OHLC bar (Bar non-nil). The matching semantics differ
// between the two modes, so the variant is tagged explicitly at the
// datasource boundary rather than duck-typed downstream.
type Tick struct {
	Symbol string   `json:"symbol"`
	Price  float64  `json:"price"`
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
	Volume float64  `json:"volume,omitempty"`
	Bar    *Bar     `json:"-"`
}

// IsBar reports whether the tick carries OHLC data.
func (t Tick) IsBar() bool { return t.Bar != nil }

// Snapshot is the latest observed price per symbol in the current replay,
// used to mark positions to market in symbols absent from the current
// batch. It grows monotonically with the set of symbols seen.
type Snapshot struct {
	Prices    map[string]float64
	Timestamp time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Prices: make(map[string]float64)}
}

// Merge folds a batch of ticks into the snapshot.
func (s *Snapshot) Merge(ts time.Time, ticks []Tick) {
	for _, t := range ticks {
		s.Prices[t.Symbol] = t.Price
	}
	s.Timestamp = ts
}

// -----------------------------------------------------------------------------
// Tables & reports
// -----------------------------------------------------------------------------

// TableInfo describes one replayable table: its name, the inclusive time
// range of available data, and the epoch representation of its rows.
type TableInfo struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
	EpochUnit string
	Timezone  string
}

// MetricsReport is the payload of a metrics event.
type MetricsReport struct {
	ReportType          ReportType `json:"reportType"`
	Timestamp           time.Time  `json:"-"`
	Equity              float64    `json:"equity"`
	TotalReturn         float64    `json:"totalReturn"`
	Sharpe              float64    `json:"sharpe"`
	Sortino             float64    `json:"sortino"`
	WinRate             float64    `json:"winRate"`
	AvgGainLossRatio    float64    `json:"avgGainLossRatio"`
	Expectancy          float64    `json:"expectancy"`
	ProfitFactor        float64    `json:"profitFactor"`
	MaxDrawdown         float64    `json:"maxDrawdown"`
	MaxDrawdownDuration int64      `json:"maxDrawdownDuration"` // milliseconds
}

// -----------------------------------------------------------------------------
// Backtest configuration
// -----------------------------------------------------------------------------

// CommissionConfig parameterises per-fill commission:
// rate*notional + perTrade, clamped to [Minimum, Maximum] when set.
type CommissionConfig struct {
	Rate     float64  `json:"rate,omitempty"`
	PerTrade float64  `json:"perTrade,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty"`
}

// PriceSlippageConfig shifts the matched price: Fixed is an additive
// basis-points component, MarketImpact scales with the filled share of
// bar volume.
type PriceSlippageConfig struct {
	Fixed        float64 `json:"fixed,omitempty"`
	MarketImpact float64 `json:"marketImpact,omitempty"`
}

// VolumeSlippageConfig caps fill quantity at MaxParticipation of bar
// volume. With AllowPartialFills the cap produces a partial fill,
// otherwise the order is skipped for the batch.
type VolumeSlippageConfig struct {
	MaxParticipation  float64 `json:"maxParticipation,omitempty"`
	AllowPartialFills bool    `json:"allowPartialFills,omitempty"`
}

// SlippageConfig groups the price and volume slippage models.
type SlippageConfig struct {
	Price  *PriceSlippageConfig  `json:"price,omitempty"`
	Volume *VolumeSlippageConfig `json:"volume,omitempty"`
}

// BacktestConfig is the per-client configuration supplied at login.
type BacktestConfig struct {
	InitialCash float64           `json:"initialCash"`
	RiskFree    float64           `json:"riskFree,omitempty"`
	Commission  *CommissionConfig `json:"commission,omitempty"`
	Slippage    *SlippageConfig   `json:"slippage,omitempty"`
}

// Validate checks login-time constraints.
func (c BacktestConfig) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initialCash must be > 0")
	}
	if c.RiskFree < 0 {
		return fmt.Errorf("riskFree must be >= 0")
	}
	if v := c.Slippage; v != nil && v.Volume != nil {
		if v.Volume.MaxParticipation < 0 || v.Volume.MaxParticipation > 1 {
			return fmt.Errorf("slippage.volume.maxParticipation must be in [0,1]")
		}
	}
	return nil
}
