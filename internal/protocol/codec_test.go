package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
)

func msCodec(t *testing.T) Codec {
	t.Helper()
	return NewCodec(epoch.MustNew(epoch.Millis, ""))
}

func TestRequestDecode(t *testing.T) {
	raw := `{"method":"submitOrders","id":7,"cid":"alpha","params":[{"id":"o1"}]}`

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Method != "submitOrders" {
		t.Errorf("Method = %q, want submitOrders", req.Method)
	}
	if req.ID == nil || *req.ID != 7 {
		t.Errorf("ID = %v, want 7", req.ID)
	}
	if req.CID != "alpha" {
		t.Errorf("CID = %q, want alpha", req.CID)
	}
}

func TestRequestDecode_MissingID(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"method":"init"}`), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.ID != nil {
		t.Errorf("ID = %v, want nil", req.ID)
	}
}

func TestResultFrame(t *testing.T) {
	c := msCodec(t)

	frame, err := c.Result(3, "alpha", LoginResult{Connected: true, Timestamp: 1000})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if got["type"] != "result" {
		t.Errorf("type = %v, want result", got["type"])
	}
	if got["id"].(float64) != 3 {
		t.Errorf("id = %v, want 3", got["id"])
	}
	if _, ok := got["error"]; ok {
		t.Error("result frame carries an error field")
	}
}

func TestErrorFrame_NoID(t *testing.T) {
	c := msCodec(t)

	frame := c.Error(nil, "", CodeInvalidParams, "malformed request")
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if _, ok := got["id"]; ok {
		t.Error("error frame without recoverable id must omit id")
	}
	errObj := got["error"].(map[string]any)
	if errObj["code"] != CodeInvalidParams {
		t.Errorf("code = %v, want %v", errObj["code"], CodeInvalidParams)
	}
}

func TestMarketEvent_QuoteAndBar(t *testing.T) {
	c := msCodec(t)
	ts := time.UnixMilli(1700000000000).UTC()
	bid, ask := 99.5, 100.5
	ticks := []model.Tick{
		{Symbol: "ES", Price: 100, Bid: &bid, Ask: &ask, Volume: 50},
		{Symbol: "NQ", Price: 401, Volume: 10, Bar: &model.Bar{Open: 400, High: 402, Low: 399, Close: 401}},
	}

	frame := c.MarketEvent("alpha", ts, ticks)
	if frame.Event == nil || frame.Event.Kind != EventMarket {
		t.Fatalf("event = %+v, want market event", frame.Event)
	}
	if frame.Event.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want 1700000000000", frame.Event.Timestamp)
	}
	if got := frame.Event.Market[0]; got.Bid == nil || *got.Bid != 99.5 || got.Open != nil {
		t.Errorf("quote tick = %+v, want bid 99.5 and no OHLC", got)
	}
	if got := frame.Event.Market[1]; got.Open == nil || *got.Open != 400 || *got.Close != 401 {
		t.Errorf("bar tick = %+v, want open 400 close 401", got)
	}
}

func TestOrderEvent_Epochs(t *testing.T) {
	c := NewCodec(epoch.MustNew(epoch.Seconds, ""))
	now := time.Unix(1700000123, 0).UTC()

	st := model.OrderState{
		Order:          model.Order{ID: "o1", Symbol: "ES", Side: model.Buy, Effect: model.OpenLong, Type: model.Market, Quantity: 5},
		FilledQuantity: 5,
		Status:         model.StatusFilled,
		Modified:       now,
	}
	fill := model.Fill{ID: "f1", OrderID: "o1", Symbol: "ES", Side: model.Buy, Price: 100, Quantity: 5, Created: now}

	frame := c.OrderEvent("alpha", now, []model.OrderState{st}, []model.Fill{fill})
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	var got struct {
		Event struct {
			Order struct {
				Updated []map[string]any `json:"updated"`
				Fill    []map[string]any `json:"fill"`
			} `json:"order"`
		} `json:"event"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if v := got.Event.Order.Updated[0]["modified"].(float64); int64(v) != 1700000123 {
		t.Errorf("modified = %v, want 1700000123", v)
	}
	if v := got.Event.Order.Fill[0]["created"].(float64); int64(v) != 1700000123 {
		t.Errorf("created = %v, want 1700000123", v)
	}
}

func TestNewTableInfo_DayUnit(t *testing.T) {
	info := model.TableInfo{
		Name:      "bars_daily",
		StartTime: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		EpochUnit: "day",
		Timezone:  "UTC",
	}

	wire, err := NewTableInfo(info)
	if err != nil {
		t.Fatalf("NewTableInfo: %v", err)
	}
	if wire.StartTime != 19724 {
		t.Errorf("StartTime = %d, want 19724", wire.StartTime)
	}
	if wire.EndTime != 19732 {
		t.Errorf("EndTime = %d, want 19732", wire.EndTime)
	}
}

func TestNewTableInfo_BadUnit(t *testing.T) {
	if _, err := NewTableInfo(model.TableInfo{Name: "x", EpochUnit: "fortnight"}); err == nil {
		t.Fatal("expected error for unknown epoch unit")
	}
}
