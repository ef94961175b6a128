package stats

import (
	"math"
	"time"

	"github.com/rickgao/backsim/internal/model"
)

// Tracker accumulates running statistics over a sequence of equity
// observations. A client owns three trackers (periodic, trade, end-of-day);
// the end-of-day tracker is reset at each day rollover.
//
// Update feeds the estimators; Report is a pure function of the current
// state, so calling it repeatedly without intervening updates yields
// identical output.
type Tracker struct {
	riskFree float64

	initialEquity float64
	prevEquity    float64
	lastEquity    float64
	seeded        bool

	// Welford running mean/variance of per-update returns.
	n    int64
	mean float64
	m2   float64

	// Downside variance for Sortino.
	downSq float64

	// Win/loss tallies over returns.
	wins    int64
	losses  int64
	gainSum float64
	lossSum float64

	// Drawdown tracking.
	peak        float64
	peakAt      time.Time
	maxDrawdown float64
	maxDDLength time.Duration
}

// NewTracker returns a tracker with the given per-return risk-free rate.
func NewTracker(riskFree float64) *Tracker {
	return &Tracker{riskFree: riskFree}
}

// Equity marks a position to market against the latest price snapshot:
// cash plus long exposure minus short exposure. Symbols missing from the
// snapshot fall back to their lot entry price.
func Equity(pos *model.Position, snap *model.Snapshot) float64 {
	eq := pos.Cash
	for sym, lots := range pos.Long {
		for _, lot := range lots {
			eq += lot.Quantity * markPrice(snap, sym, lot.Price)
		}
	}
	for sym, lots := range pos.Short {
		for _, lot := range lots {
			eq -= lot.Quantity * markPrice(snap, sym, lot.Price)
		}
	}
	return eq
}

func markPrice(snap *model.Snapshot, sym string, fallback float64) float64 {
	if snap != nil {
		if p, ok := snap.Prices[sym]; ok {
			return p
		}
	}
	return fallback
}

// Update records one equity observation at ts. The first observation
// seeds the baseline and produces no return.
func (t *Tracker) Update(equity float64, ts time.Time) {
	t.lastEquity = equity

	if !t.seeded {
		t.seeded = true
		t.initialEquity = equity
		t.prevEquity = equity
		t.peak = equity
		t.peakAt = ts
		return
	}

	if t.prevEquity != 0 {
		r := (equity - t.prevEquity) / t.prevEquity
		t.observeReturn(r)
	}
	t.prevEquity = equity

	if equity >= t.peak {
		t.peak = equity
		t.peakAt = ts
	} else {
		if t.peak > 0 {
			dd := (t.peak - equity) / t.peak
			if dd > t.maxDrawdown {
				t.maxDrawdown = dd
			}
		}
		if length := ts.Sub(t.peakAt); length > t.maxDDLength {
			t.maxDDLength = length
		}
	}
}

func (t *Tracker) observeReturn(r float64) {
	t.n++
	delta := r - t.mean
	t.mean += delta / float64(t.n)
	t.m2 += delta * (r - t.mean)

	if excess := r - t.riskFree; excess < 0 {
		t.downSq += excess * excess
	}

	switch {
	case r > 0:
		t.wins++
		t.gainSum += r
	case r < 0:
		t.losses++
		t.lossSum += -r
	}
}

// Reset clears the estimators while keeping the current equity as the new
// baseline. Used at end-of-day rollover.
func (t *Tracker) Reset() {
	last, lastEq, seeded := t.prevEquity, t.lastEquity, t.seeded
	*t = Tracker{riskFree: t.riskFree}
	if seeded {
		t.seeded = true
		t.initialEquity = last
		t.prevEquity = last
		t.lastEquity = lastEq
		t.peak = last
	}
}

// Report builds a metrics report from the current state.
func (t *Tracker) Report(rt model.ReportType, ts time.Time) model.MetricsReport {
	rep := model.MetricsReport{
		ReportType:          rt,
		Timestamp:           ts,
		Equity:              t.lastEquity,
		MaxDrawdown:         t.maxDrawdown,
		MaxDrawdownDuration: t.maxDDLength.Milliseconds(),
	}

	if t.initialEquity != 0 {
		rep.TotalReturn = (t.lastEquity - t.initialEquity) / t.initialEquity
	}

	if t.n >= 2 {
		variance := t.m2 / float64(t.n-1)
		if sd := math.Sqrt(variance); sd > 0 {
			rep.Sharpe = (t.mean - t.riskFree) / sd
		}
	}
	if t.n >= 1 && t.downSq > 0 {
		downDev := math.Sqrt(t.downSq / float64(t.n))
		rep.Sortino = (t.mean - t.riskFree) / downDev
	}

	total := t.wins + t.losses
	if total > 0 {
		rep.WinRate = float64(t.wins) / float64(total)
	}

	var avgGain, avgLoss float64
	if t.wins > 0 {
		avgGain = t.gainSum / float64(t.wins)
	}
	if t.losses > 0 {
		avgLoss = t.lossSum / float64(t.losses)
	}
	if avgLoss > 0 {
		rep.AvgGainLossRatio = avgGain / avgLoss
	}
	if total > 0 {
		rep.Expectancy = rep.WinRate*avgGain - (1-rep.WinRate)*avgLoss
	}
	if t.lossSum > 0 {
		rep.ProfitFactor = t.gainSum / t.lossSum
	}

	return rep
}
