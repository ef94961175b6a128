package stats

import (
	"math"
	"testing"
	"time"

	"github.com/rickgao/backsim/internal/model"
)

var t0 = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func feed(tr *Tracker, equities ...float64) {
	for i, eq := range equities {
		tr.Update(eq, t0.Add(time.Duration(i)*time.Minute))
	}
}

func TestEquity_MarkToMarket(t *testing.T) {
	pos := model.NewPosition(9000)
	pos.Long["X"] = []model.Lot{{Quantity: 10, Price: 100, TotalCost: 1000}}
	pos.Short["Y"] = []model.Lot{{Quantity: 4, Price: 50, TotalCost: 200}}

	snap := model.NewSnapshot()
	snap.Prices["X"] = 110
	snap.Prices["Y"] = 40

	got := Equity(pos, snap)
	want := 9000.0 + 10*110 - 4*40
	if got != want {
		t.Errorf("Equity = %v, want %v", got, want)
	}
}

func TestEquity_FallbackToEntryPrice(t *testing.T) {
	pos := model.NewPosition(1000)
	pos.Long["X"] = []model.Lot{{Quantity: 2, Price: 100, TotalCost: 200}}

	got := Equity(pos, model.NewSnapshot())
	if got != 1200 {
		t.Errorf("Equity = %v, want 1200", got)
	}
}

func TestTracker_TotalReturn(t *testing.T) {
	tr := NewTracker(0)
	feed(tr, 10000, 10500, 11000)

	rep := tr.Report(model.ReportPeriodic, t0)
	want := 0.1
	if math.Abs(rep.TotalReturn-want) > 1e-12 {
		t.Errorf("TotalReturn = %v, want %v", rep.TotalReturn, want)
	}
	if rep.Equity != 11000 {
		t.Errorf("Equity = %v, want 11000", rep.Equity)
	}
}

func TestTracker_WinLossStats(t *testing.T) {
	tr := NewTracker(0)
	// Returns: +10%, -5%, +10%, -5% roughly.
	feed(tr, 1000, 1100, 1045, 1149.5, 1092.025)

	rep := tr.Report(model.ReportPeriodic, t0)
	if rep.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", rep.WinRate)
	}
	if math.Abs(rep.AvgGainLossRatio-2.0) > 1e-9 {
		t.Errorf("AvgGainLossRatio = %v, want 2.0", rep.AvgGainLossRatio)
	}
	if math.Abs(rep.ProfitFactor-2.0) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 2.0", rep.ProfitFactor)
	}
	// Expectancy = 0.5*0.10 - 0.5*0.05
	if math.Abs(rep.Expectancy-0.025) > 1e-9 {
		t.Errorf("Expectancy = %v, want 0.025", rep.Expectancy)
	}
}

func TestTracker_SharpePositiveForUptrend(t *testing.T) {
	tr := NewTracker(0)
	feed(tr, 1000, 1010, 1025, 1030, 1050, 1055)

	rep := tr.Report(model.ReportPeriodic, t0)
	if rep.Sharpe <= 0 {
		t.Errorf("Sharpe = %v, want > 0 for monotone gains", rep.Sharpe)
	}
	// All returns positive: no downside observations, Sortino stays 0.
	if rep.Sortino != 0 {
		t.Errorf("Sortino = %v, want 0 without downside", rep.Sortino)
	}
}

func TestTracker_SortinoNegativeForDowntrend(t *testing.T) {
	tr := NewTracker(0)
	feed(tr, 1000, 980, 990, 960, 940)

	rep := tr.Report(model.ReportPeriodic, t0)
	if rep.Sortino >= 0 {
		t.Errorf("Sortino = %v, want < 0 for net losses", rep.Sortino)
	}
}

func TestTracker_Drawdown(t *testing.T) {
	tr := NewTracker(0)
	tr.Update(1000, t0)
	tr.Update(1200, t0.Add(1*time.Minute)) // peak
	tr.Update(900, t0.Add(2*time.Minute))  // 25% drawdown
	tr.Update(1100, t0.Add(5*time.Minute)) // still below peak

	rep := tr.Report(model.ReportPeriodic, t0.Add(5*time.Minute))
	if math.Abs(rep.MaxDrawdown-0.25) > 1e-12 {
		t.Errorf("MaxDrawdown = %v, want 0.25", rep.MaxDrawdown)
	}
	wantDur := (4 * time.Minute).Milliseconds()
	if rep.MaxDrawdownDuration != wantDur {
		t.Errorf("MaxDrawdownDuration = %v, want %v", rep.MaxDrawdownDuration, wantDur)
	}
}

func TestTracker_ReportIdempotent(t *testing.T) {
	tr := NewTracker(0.001)
	feed(tr, 1000, 1020, 990, 1040)

	a := tr.Report(model.ReportTrade, t0)
	b := tr.Report(model.ReportTrade, t0)
	if a != b {
		t.Errorf("repeated Report differs:\n%+v\n%+v", a, b)
	}
}

func TestTracker_ResetKeepsBaseline(t *testing.T) {
	tr := NewTracker(0)
	feed(tr, 1000, 1100, 900)

	tr.Reset()

	rep := tr.Report(model.ReportEndOfDay, t0)
	if rep.MaxDrawdown != 0 {
		t.Errorf("MaxDrawdown after reset = %v, want 0", rep.MaxDrawdown)
	}
	if rep.TotalReturn != 0 {
		t.Errorf("TotalReturn after reset = %v, want 0", rep.TotalReturn)
	}

	// Next update computes a return against the pre-reset equity.
	tr.Update(990, t0.Add(time.Hour))
	rep = tr.Report(model.ReportEndOfDay, t0.Add(time.Hour))
	if math.Abs(rep.TotalReturn-0.1) > 1e-9 {
		t.Errorf("TotalReturn = %v, want 0.1 (990 vs 900 baseline)", rep.TotalReturn)
	}
}

func TestTracker_FirstUpdateProducesNoReturn(t *testing.T) {
	tr := NewTracker(0)
	tr.Update(1000, t0)

	rep := tr.Report(model.ReportPeriodic, t0)
	if rep.WinRate != 0 || rep.Sharpe != 0 || rep.TotalReturn != 0 {
		t.Errorf("unexpected stats after single update: %+v", rep)
	}
}
