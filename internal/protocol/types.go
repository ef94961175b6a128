package protocol

import (
	"encoding/json"

	"github.com/rickgao/backsim/internal/model"
)

// MultiplexCID is the sentinel client id carried by market events on the
// multiplex fan-out channel; the client-side orchestrator demultiplexes.
const MultiplexCID = "__multiplex__"

// Error codes returned in error frames.
const (
	CodeInvalidMethod       = "INVALID_METHOD"
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeInvalidClient       = "INVALID_CLIENT"
	CodeInvalidTable        = "INVALID_TABLE"
	CodeNoReplayTable       = "NO_REPLAY_TABLE"
	CodeReplayActive        = "REPLAY_ACTIVE"
	CodeReplayAlreadyActive = "REPLAY_ALREADY_ACTIVE"
	CodeDataSourceError     = "DATA_SOURCE_ERROR"
	CodeReplayError         = "REPLAY_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Frame types.
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeEvent  = "event"
)

// Event types.
const (
	EventMarket   = "market"
	EventOrder    = "order"
	EventMetrics  = "metrics"
	EventExternal = "external"
)

// Request is the inbound envelope. ID is a pointer so an unparseable or
// absent id can be told apart from id 0 when building the error reply.
type Request struct {
	Method string          `json:"method"`
	ID     *int64          `json:"id"`
	CID    string          `json:"cid,omitempty"`
	Params json.RawMessage `json:"params"`
}

// ErrorInfo is the structured error carried by error frames.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the outbound envelope. Result and Error are mutually
// exclusive and echo the request id; event frames carry only a cid.
type Frame struct {
	Type   string          `json:"type"`
	ID     *int64          `json:"id,omitempty"`
	CID    string          `json:"cid,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
	Event  *Event          `json:"event,omitempty"`
}

// Event is the payload of an event frame. Exactly one of Market, Order,
// Metrics, or External is set, matching Kind.
type Event struct {
	Kind      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Market    []Tick          `json:"market,omitempty"`
	Order     *OrderEvent     `json:"order,omitempty"`
	Metrics   *MetricsReport  `json:"metrics,omitempty"`
	External  json.RawMessage `json:"external,omitempty"`
}

// OrderEvent carries the order states touched by a broker pass and the
// fills it produced.
type OrderEvent struct {
	Updated []OrderState `json:"updated"`
	Fill    []Fill       `json:"fill"`
}

// -----------------------------------------------------------------------------
// Wire views of model types (absolute times become integer epochs)
// -----------------------------------------------------------------------------

// Tick is the wire form of a quote or bar row.
type Tick struct {
	Symbol string   `json:"symbol"`
	Price  float64  `json:"price"`
	Bid    *float64 `json:"bid,omitempty"`
	Ask    *float64 `json:"ask,omitempty"`
	Volume float64  `json:"volume,omitempty"`
	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  *float64 `json:"close,omitempty"`
}

// OrderState is the wire form of model.OrderState.
type OrderState struct {
	model.OrderState
	Modified int64 `json:"modified"`
}

// Fill is the wire form of model.Fill.
type Fill struct {
	model.Fill
	Created int64 `json:"created"`
}

// Position is the wire form of model.Position.
type Position struct {
	*model.Position
	Modified int64 `json:"modified"`
}

// MetricsReport is the wire form of model.MetricsReport.
type MetricsReport struct {
	model.MetricsReport
	Timestamp int64 `json:"timestamp"`
}

// TableInfo is the wire form of model.TableInfo; the range is expressed
// in the table's own epoch unit.
type TableInfo struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	EpochUnit string `json:"epochUnit"`
	Timezone  string `json:"timezone"`
}

// -----------------------------------------------------------------------------
// Method params & results
// -----------------------------------------------------------------------------

// LoginParams configures a new client session.
type LoginParams struct {
	Config model.BacktestConfig `json:"config"`
}

// LoginResult acknowledges login/logout.
type LoginResult struct {
	Connected bool  `json:"connected"`
	Timestamp int64 `json:"timestamp"`
}

// InitResult advertises the server's replayable tables.
type InitResult struct {
	ReplayTables []TableInfo `json:"replayTables"`
}

// ReplayParams starts a replay across every client on the connection.
type ReplayParams struct {
	Table           string `json:"table"`
	From            int64  `json:"from"`
	To              int64  `json:"to"`
	ReplayInterval  int64  `json:"replayInterval"` // milliseconds between batches
	ReplayID        string `json:"replayId"`
	PeriodicReport  int    `json:"periodicReport,omitempty"`
	TradeReport     bool   `json:"tradeReport,omitempty"`
	EndOfDayReport  bool   `json:"endOfDayReport,omitempty"`
	MarketMultiplex bool   `json:"marketMultiplex,omitempty"`
}

// ReplayResult closes out a completed replay.
type ReplayResult struct {
	ReplayID string `json:"replayId"`
	Begin    int64  `json:"begin"`
	End      int64  `json:"end"`
}
