package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
)

// Codec renders outbound frames, translating absolute times to the
// integer epochs of the connection's negotiated unit and timezone.
type Codec struct {
	Conv epoch.Converter
}

// NewCodec returns a Codec for the given converter.
func NewCodec(conv epoch.Converter) Codec {
	return Codec{Conv: conv}
}

// Result builds a result frame, marshalling v into the result field.
func (c Codec) Result(id int64, cid string, v any) (Frame, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal result: %w", err)
	}
	return Frame{Type: TypeResult, ID: &id, CID: cid, Result: raw}, nil
}

// Error builds an error frame. A nil id means the request id could not
// be recovered and is omitted from the frame.
func (c Codec) Error(id *int64, cid, code, message string) Frame {
	return Frame{
		Type:  TypeError,
		ID:    id,
		CID:   cid,
		Error: &ErrorInfo{Code: code, Message: message},
	}
}

// MarketEvent builds a market data event frame for one batch.
func (c Codec) MarketEvent(cid string, ts time.Time, ticks []model.Tick) Frame {
	wire := make([]Tick, len(ticks))
	for i, tk := range ticks {
		wire[i] = c.tick(tk)
	}
	return Frame{
		Type: TypeEvent,
		CID:  cid,
		Event: &Event{
			Kind:      EventMarket,
			Timestamp: c.Conv.FromTime(ts),
			Market:    wire,
		},
	}
}

// OrderEvent builds an order event frame from a broker pass.
func (c Codec) OrderEvent(cid string, ts time.Time, updated []model.OrderState, fills []model.Fill) Frame {
	body := &OrderEvent{
		Updated: make([]OrderState, len(updated)),
		Fill:    make([]Fill, len(fills)),
	}
	for i, st := range updated {
		body.Updated[i] = c.OrderState(st)
	}
	for i, f := range fills {
		body.Fill[i] = c.Fill(f)
	}
	return Frame{
		Type: TypeEvent,
		CID:  cid,
		Event: &Event{
			Kind:      EventOrder,
			Timestamp: c.Conv.FromTime(ts),
			Order:     body,
		},
	}
}

// MetricsEvent builds a metrics report event frame.
func (c Codec) MetricsEvent(cid string, rep model.MetricsReport) Frame {
	wire := c.MetricsReport(rep)
	return Frame{
		Type: TypeEvent,
		CID:  cid,
		Event: &Event{
			Kind:      EventMetrics,
			Timestamp: wire.Timestamp,
			Metrics:   &wire,
		},
	}
}

// OrderState converts a model order state to its wire form.
func (c Codec) OrderState(st model.OrderState) OrderState {
	return OrderState{OrderState: st, Modified: c.Conv.FromTime(st.Modified)}
}

// Fill converts a model fill to its wire form.
func (c Codec) Fill(f model.Fill) Fill {
	return Fill{Fill: f, Created: c.Conv.FromTime(f.Created)}
}

// Position converts a model position to its wire form.
func (c Codec) Position(pos *model.Position) Position {
	return Position{Position: pos, Modified: c.Conv.FromTime(pos.Modified)}
}

// MetricsReport converts a model metrics report to its wire form.
func (c Codec) MetricsReport(rep model.MetricsReport) MetricsReport {
	return MetricsReport{MetricsReport: rep, Timestamp: c.Conv.FromTime(rep.Timestamp)}
}

// TableInfo converts table metadata to its wire form, expressing the
// range in the table's own epoch unit and timezone rather than the
// connection's.
func NewTableInfo(info model.TableInfo) (TableInfo, error) {
	unit, err := epoch.ParseUnit(info.EpochUnit)
	if err != nil {
		return TableInfo{}, fmt.Errorf("table %s: %w", info.Name, err)
	}
	conv, err := epoch.New(unit, info.Timezone)
	if err != nil {
		return TableInfo{}, fmt.Errorf("table %s: %w", info.Name, err)
	}
	return TableInfo{
		Name:      info.Name,
		StartTime: conv.FromTime(info.StartTime),
		EndTime:   conv.FromTime(info.EndTime),
		EpochUnit: info.EpochUnit,
		Timezone:  info.Timezone,
	}, nil
}

func (c Codec) tick(tk model.Tick) Tick {
	out := Tick{
		Symbol: tk.Symbol,
		Price:  tk.Price,
		Bid:    tk.Bid,
		Ask:    tk.Ask,
		Volume: tk.Volume,
	}
	if tk.Bar != nil {
		b := *tk.Bar
		out.Open = &b.Open
		out.High = &b.High
		out.Low = &b.Low
		out.Close = &b.Close
	}
	return out
}
