package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rickgao/backsim/internal/datasource"
	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
	"github.com/rickgao/backsim/internal/protocol"
	"github.com/rickgao/backsim/internal/replay"
	"github.com/rickgao/backsim/internal/session"
)

var (
	t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func testSource() *datasource.Memory {
	return datasource.NewMemory(datasource.MemoryTable{
		Info: model.TableInfo{
			Name:      "ticks_test",
			StartTime: t0,
			EndTime:   t1,
			EpochUnit: "ms",
			Timezone:  "UTC",
		},
		Batches: []datasource.Batch{
			{Timestamp: t0, Ticks: []model.Tick{{Symbol: "ES", Price: 100, Volume: 1000}}},
			{Timestamp: t1, Ticks: []model.Tick{{Symbol: "ES", Price: 101, Volume: 900}}},
		},
	})
}

func testRouter() *Router {
	src := testSource()
	return New(src, replay.NewRunner(src, nil, nil), nil, nil)
}

func testConn() *session.Conn {
	return session.NewConn(epoch.MustNew(epoch.Millis, "UTC"), nil)
}

func dispatch(t *testing.T, r *Router, conn *session.Conn, raw string) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	r.Dispatch(context.Background(), conn, []byte(raw), func(f protocol.Frame) {
		frames = append(frames, f)
	}, nil)
	if len(frames) == 0 {
		t.Fatalf("no frames emitted for %s", raw)
	}
	return frames
}

func login(t *testing.T, r *Router, conn *session.Conn, cid string) {
	t.Helper()
	frames := dispatch(t, r, conn,
		`{"method":"login","id":1,"cid":"`+cid+`","params":{"config":{"initialCash":10000}}}`)
	if frames[0].Type != protocol.TypeResult {
		t.Fatalf("login frame = %+v, want result", frames[0])
	}
}

func TestDispatch_MalformedRequest(t *testing.T) {
	frames := dispatch(t, testRouter(), testConn(), `{not json`)

	f := frames[0]
	if f.Type != protocol.TypeError || f.Error.Code != protocol.CodeInvalidParams {
		t.Errorf("frame = %+v, want INVALID_PARAMS error", f)
	}
	if f.ID != nil {
		t.Errorf("id = %v, want omitted", f.ID)
	}
}

func TestDispatch_MissingID(t *testing.T) {
	frames := dispatch(t, testRouter(), testConn(), `{"method":"init"}`)
	if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeInvalidParams {
		t.Errorf("frame = %+v, want INVALID_PARAMS", frames[0])
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	frames := dispatch(t, testRouter(), testConn(), `{"method":"teleport","id":1}`)
	if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeInvalidMethod {
		t.Errorf("frame = %+v, want INVALID_METHOD", frames[0])
	}
	if frames[0].ID == nil || *frames[0].ID != 1 {
		t.Errorf("id = %v, want 1", frames[0].ID)
	}
}

func TestDispatch_UnknownClient(t *testing.T) {
	for _, raw := range []string{
		`{"method":"subscribe","id":2,"cid":"ghost","params":["ES"]}`,
		`{"method":"getPosition","id":3,"cid":"ghost"}`,
		`{"method":"submitOrders","id":4,"params":[]}`,
	} {
		frames := dispatch(t, testRouter(), testConn(), raw)
		if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeInvalidClient {
			t.Errorf("%s: frame = %+v, want INVALID_CLIENT", raw, frames[0])
		}
	}
}

func TestInit(t *testing.T) {
	frames := dispatch(t, testRouter(), testConn(), `{"method":"init","id":1}`)

	f := frames[0]
	if f.Type != protocol.TypeResult {
		t.Fatalf("frame = %+v, want result", f)
	}
	var res protocol.InitResult
	if err := json.Unmarshal(f.Result, &res); err != nil {
		t.Fatalf("unmarshal init result: %v", err)
	}
	if len(res.ReplayTables) != 1 || res.ReplayTables[0].Name != "ticks_test" {
		t.Fatalf("replayTables = %+v, want [ticks_test]", res.ReplayTables)
	}
	if res.ReplayTables[0].StartTime != t0.UnixMilli() {
		t.Errorf("startTime = %d, want %d", res.ReplayTables[0].StartTime, t0.UnixMilli())
	}
}

func TestLoginLogout(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")

	if _, ok := conn.Client("alpha"); !ok {
		t.Fatal("client missing after login")
	}

	frames := dispatch(t, r, conn, `{"method":"logout","id":2,"cid":"alpha"}`)
	var res protocol.LoginResult
	if err := json.Unmarshal(frames[0].Result, &res); err != nil {
		t.Fatalf("unmarshal logout result: %v", err)
	}
	if res.Connected {
		t.Error("logout result connected = true, want false")
	}
	if _, ok := conn.Client("alpha"); ok {
		t.Error("client still present after logout")
	}
}

func TestLogin_InvalidConfig(t *testing.T) {
	frames := dispatch(t, testRouter(), testConn(),
		`{"method":"login","id":1,"cid":"alpha","params":{"config":{"initialCash":0}}}`)
	if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeInvalidParams {
		t.Errorf("frame = %+v, want INVALID_PARAMS", frames[0])
	}
}

func TestSubscribe(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")

	frames := dispatch(t, r, conn, `{"method":"subscribe","id":2,"cid":"alpha","params":["ES","NQ","ES"]}`)
	var added []string
	if err := json.Unmarshal(frames[0].Result, &added); err != nil {
		t.Fatalf("unmarshal subscribe result: %v", err)
	}
	if len(added) != 2 {
		t.Errorf("added = %v, want [ES NQ]", added)
	}
}

func TestSubmitOrders(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")

	frames := dispatch(t, r, conn, `{"method":"submitOrders","id":2,"cid":"alpha","params":[
		{"id":"o1","symbol":"ES","side":"BUY","effect":"OPEN_LONG","type":"MARKET","quantity":10},
		{"id":"o1","symbol":"ES","side":"BUY","effect":"OPEN_LONG","type":"MARKET","quantity":5}
	]}`)

	if len(frames) != 2 {
		t.Fatalf("frames = %d, want result + order event", len(frames))
	}
	var accepted int
	if err := json.Unmarshal(frames[0].Result, &accepted); err != nil {
		t.Fatalf("unmarshal submit result: %v", err)
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1 (duplicate id rejected)", accepted)
	}

	ev := frames[1]
	if ev.Event == nil || ev.Event.Kind != protocol.EventOrder {
		t.Fatalf("second frame = %+v, want order event", ev)
	}
	if got := ev.Event.Order.Updated[1].Status; got != model.StatusRejected {
		t.Errorf("duplicate status = %v, want REJECTED", got)
	}
}

func TestCancelOrders(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")
	dispatch(t, r, conn, `{"method":"submitOrders","id":2,"cid":"alpha","params":[
		{"id":"o1","symbol":"ES","side":"BUY","effect":"OPEN_LONG","type":"LIMIT","price":99,"quantity":10}
	]}`)

	frames := dispatch(t, r, conn, `{"method":"cancelOrders","id":3,"cid":"alpha","params":["o1","ghost"]}`)
	var cancelled int
	if err := json.Unmarshal(frames[0].Result, &cancelled); err != nil {
		t.Fatalf("unmarshal cancel result: %v", err)
	}
	if cancelled != 1 {
		t.Errorf("cancelled = %d, want 1 (only matched ids)", cancelled)
	}

	open := dispatch(t, r, conn, `{"method":"getOpenOrders","id":4,"cid":"alpha"}`)
	var states []protocol.OrderState
	if err := json.Unmarshal(open[0].Result, &states); err != nil {
		t.Fatalf("unmarshal open orders: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("open orders = %v, want none", states)
	}
}

func TestGetPosition(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")

	frames := dispatch(t, r, conn, `{"method":"getPosition","id":2,"cid":"alpha"}`)
	var pos struct {
		Cash float64 `json:"cash"`
	}
	if err := json.Unmarshal(frames[0].Result, &pos); err != nil {
		t.Fatalf("unmarshal position: %v", err)
	}
	if pos.Cash != 10000 {
		t.Errorf("cash = %v, want 10000", pos.Cash)
	}
}

func TestReplay_EndToEnd(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")
	dispatch(t, r, conn, `{"method":"subscribe","id":2,"cid":"alpha","params":["*"]}`)

	raw := `{"method":"replay","id":3,"params":{"table":"ticks_test","from":` +
		itoa(t0.UnixMilli()) + `,"to":` + itoa(t1.UnixMilli()) + `,"replayId":"r1"}}`
	frames := dispatch(t, r, conn, raw)

	last := frames[len(frames)-1]
	if last.Type != protocol.TypeResult {
		t.Fatalf("last frame = %+v, want replay result", last)
	}
	var res protocol.ReplayResult
	if err := json.Unmarshal(last.Result, &res); err != nil {
		t.Fatalf("unmarshal replay result: %v", err)
	}
	if res.ReplayID != "r1" {
		t.Errorf("replayId = %q, want r1", res.ReplayID)
	}

	markets := 0
	for i, f := range frames[:len(frames)-1] {
		if f.Type != protocol.TypeEvent {
			t.Errorf("frame %d = %+v, want event before final result", i, f)
			continue
		}
		if f.Event.Kind == protocol.EventMarket {
			markets++
		}
	}
	if markets != 2 {
		t.Errorf("market events = %d, want 2", markets)
	}
	if conn.ReplayActive() {
		t.Error("replay still active after result")
	}
}

func TestReplay_InvalidTable(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")

	frames := dispatch(t, r, conn, `{"method":"replay","id":2,"params":{"table":"ghost","from":0,"to":1,"replayId":"r1"}}`)
	if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeInvalidTable {
		t.Errorf("frame = %+v, want INVALID_TABLE", frames[0])
	}
}

func TestReplay_LoginDuringReplayRejected(t *testing.T) {
	r := testRouter()
	conn := testConn()
	login(t, r, conn, "alpha")
	dispatch(t, r, conn, `{"method":"subscribe","id":2,"cid":"alpha","params":["*"]}`)

	var frames []protocol.Frame
	emit := func(f protocol.Frame) { frames = append(frames, f) }

	loggedIn := false
	interleave := func() {
		if loggedIn {
			return
		}
		loggedIn = true
		r.Dispatch(context.Background(), conn,
			[]byte(`{"method":"login","id":10,"cid":"beta","params":{"config":{"initialCash":5000}}}`),
			emit, nil)
	}

	raw := `{"method":"replay","id":3,"params":{"table":"ticks_test","from":` +
		itoa(t0.UnixMilli()) + `,"to":` + itoa(t1.UnixMilli()) + `,"replayId":"r1"}}`
	r.Dispatch(context.Background(), conn, []byte(raw), emit, interleave)

	var loginErr *protocol.Frame
	for i := range frames {
		if frames[i].ID != nil && *frames[i].ID == 10 {
			loginErr = &frames[i]
		}
	}
	if loginErr == nil {
		t.Fatal("no response for mid-replay login")
	}
	if loginErr.Error == nil || loginErr.Error.Code != protocol.CodeReplayActive {
		t.Errorf("mid-replay login frame = %+v, want REPLAY_ACTIVE", loginErr)
	}
	if len(conn.Clients()) != 1 {
		t.Errorf("clients = %d, want 1 (map unchanged)", len(conn.Clients()))
	}
}

func TestReplay_SecondReplayRejected(t *testing.T) {
	r := testRouter()
	conn := testConn()
	if err := conn.BeginReplay(); err != nil {
		t.Fatalf("BeginReplay: %v", err)
	}

	frames := dispatch(t, r, conn, `{"method":"replay","id":2,"params":{"table":"ticks_test","from":0,"to":1,"replayId":"r2"}}`)
	if frames[0].Error == nil || frames[0].Error.Code != protocol.CodeReplayAlreadyActive {
		t.Errorf("frame = %+v, want REPLAY_ALREADY_ACTIVE", frames[0])
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
