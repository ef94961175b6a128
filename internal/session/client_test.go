package session

import (
	"testing"
	"time"

	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/model"
)

func testConv() epoch.Converter {
	return epoch.MustNew(epoch.Millis, "UTC")
}

func testClient(t *testing.T) *Client {
	t.Helper()
	return NewClient("alpha", model.BacktestConfig{InitialCash: 10000}, testConv(), nil)
}

func marketOrder(id, symbol string, qty float64) model.Order {
	return model.Order{
		ID:       id,
		Symbol:   symbol,
		Side:     model.Buy,
		Effect:   model.OpenLong,
		Type:     model.Market,
		Quantity: qty,
	}
}

func TestAddSubscriptions(t *testing.T) {
	c := testClient(t)

	added := c.AddSubscriptions([]string{"ES", "NQ", "ES"})
	if len(added) != 2 {
		t.Fatalf("added = %v, want [ES NQ]", added)
	}

	added = c.AddSubscriptions([]string{"ES", "CL"})
	if len(added) != 1 || added[0] != "CL" {
		t.Errorf("added = %v, want [CL]", added)
	}
}

func TestRemoveSubscriptions(t *testing.T) {
	c := testClient(t)
	c.AddSubscriptions([]string{"ES", "NQ"})

	removed := c.RemoveSubscriptions([]string{"ES", "CL"})
	if len(removed) != 1 || removed[0] != "ES" {
		t.Errorf("removed = %v, want [ES]", removed)
	}
	if len(c.Subscriptions()) != 1 {
		t.Errorf("subscriptions = %v, want [NQ]", c.Subscriptions())
	}
}

func TestSubscriptionsFrozenDuringReplay(t *testing.T) {
	c := testClient(t)
	c.AddSubscriptions([]string{"ES"})
	c.Freeze(true)

	if added := c.AddSubscriptions([]string{"NQ"}); len(added) != 0 {
		t.Errorf("added during replay = %v, want empty", added)
	}
	if removed := c.RemoveSubscriptions([]string{"ES"}); len(removed) != 0 {
		t.Errorf("removed during replay = %v, want empty", removed)
	}
	if len(c.Subscriptions()) != 1 {
		t.Errorf("subscription set changed during replay: %v", c.Subscriptions())
	}
}

func TestFilterBatch(t *testing.T) {
	c := testClient(t)
	c.AddSubscriptions([]string{"ES"})
	batch := []model.Tick{
		{Symbol: "ES", Price: 100},
		{Symbol: "NQ", Price: 200},
	}

	got := c.FilterBatch(batch)
	if len(got) != 1 || got[0].Symbol != "ES" {
		t.Errorf("filtered = %v, want only ES", got)
	}

	c.AddSubscriptions([]string{Wildcard})
	if got := c.FilterBatch(batch); len(got) != 2 {
		t.Errorf("wildcard filtered %d ticks, want 2", len(got))
	}
}

func TestProcessOrderUpdate_FillEmitsTradeReport(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(0, true, false)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	c.Broker().Submit([]model.Order{marketOrder("o1", "ES", 10)}, now)

	batch := []model.Tick{{Symbol: "ES", Price: 100, Volume: 1000}}
	snap := model.NewSnapshot()
	snap.Merge(now, batch)

	out := c.ProcessOrderUpdate(batch, snap, now)
	if len(out.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(out.Fills))
	}
	if len(out.Updated) == 0 {
		t.Error("expected updated order states")
	}
	if out.Trade == nil {
		t.Fatal("expected trade metrics report")
	}
	if out.Trade.ReportType != model.ReportTrade {
		t.Errorf("reportType = %v, want TRADE", out.Trade.ReportType)
	}
}

func TestProcessOrderUpdate_TradeReportDisabled(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(0, false, false)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	c.Broker().Submit([]model.Order{marketOrder("o1", "ES", 10)}, now)

	batch := []model.Tick{{Symbol: "ES", Price: 100}}
	snap := model.NewSnapshot()
	snap.Merge(now, batch)

	out := c.ProcessOrderUpdate(batch, snap, now)
	if len(out.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(out.Fills))
	}
	if out.Trade != nil {
		t.Error("trade report emitted with tradeReport=false")
	}
}

func TestProcessOrderUpdate_NoOpenSymbols(t *testing.T) {
	c := testClient(t)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := []model.Tick{{Symbol: "ES", Price: 100}}
	snap := model.NewSnapshot()
	snap.Merge(now, batch)

	out := c.ProcessOrderUpdate(batch, snap, now)
	if len(out.Updated) != 0 || len(out.Fills) != 0 || out.Trade != nil {
		t.Errorf("expected empty update with no open orders, got %+v", out)
	}
}

func TestProcessMarketData_PeriodicReport(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(2, false, false)
	snap := model.NewSnapshot()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		snap.Merge(now, []model.Tick{{Symbol: "ES", Price: 100 + float64(i)}})
		reports := c.ProcessMarketData(nil, snap, now)

		wantReport := i%2 == 1
		if wantReport && (len(reports) != 1 || reports[0].ReportType != model.ReportPeriodic) {
			t.Errorf("batch %d: reports = %v, want one PERIODIC", i, reports)
		}
		if !wantReport && len(reports) != 0 {
			t.Errorf("batch %d: reports = %v, want none", i, reports)
		}
	}
}

func TestProcessMarketData_EODRollover(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(0, false, true)
	snap := model.NewSnapshot()

	day1 := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	snap.Merge(day1, []model.Tick{{Symbol: "ES", Price: 100}})
	if reports := c.ProcessMarketData(nil, snap, day1); len(reports) != 0 {
		t.Fatalf("first batch reports = %v, want none", reports)
	}

	snap.Merge(day2, []model.Tick{{Symbol: "ES", Price: 101}})
	reports := c.ProcessMarketData(nil, snap, day2)
	if len(reports) != 1 {
		t.Fatalf("rollover reports = %d, want 1", len(reports))
	}
	if reports[0].ReportType != model.ReportEndOfDay {
		t.Errorf("reportType = %v, want ENDOFDAY", reports[0].ReportType)
	}
	if !reports[0].Timestamp.Equal(day2) {
		t.Errorf("report timestamp = %v, want rollover batch time %v", reports[0].Timestamp, day2)
	}
}

func TestProcessMarketData_NoEODWithinDay(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(0, false, true)
	snap := model.NewSnapshot()

	morning := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	snap.Merge(morning, []model.Tick{{Symbol: "ES", Price: 100}})
	c.ProcessMarketData(nil, snap, morning)
	snap.Merge(evening, []model.Tick{{Symbol: "ES", Price: 101}})
	if reports := c.ProcessMarketData(nil, snap, evening); len(reports) != 0 {
		t.Errorf("same-day reports = %v, want none", reports)
	}
}

func TestProcessMarketData_EODDisabledStillResets(t *testing.T) {
	c := testClient(t)
	c.SetReportFlags(0, false, false)
	snap := model.NewSnapshot()

	day1 := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	snap.Merge(day1, []model.Tick{{Symbol: "ES", Price: 100}})
	c.ProcessMarketData(nil, snap, day1)
	snap.Merge(day2, []model.Tick{{Symbol: "ES", Price: 101}})
	if reports := c.ProcessMarketData(nil, snap, day2); len(reports) != 0 {
		t.Errorf("rollover with eodReport=false reports = %v, want none", reports)
	}
}
