package broker

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/backsim/internal/model"
)

// ProcessOpenOrders runs one matching pass over the batch: stop
// conversion first, then fills. It returns every order state that changed
// (including stop conversions that did not fill) and the fills produced,
// both in deterministic order.
func (b *Broker) ProcessOpenOrders(ticks []model.Tick, now time.Time) (updated []model.OrderState, fills []model.Fill) {
	if len(b.orderIDs) == 0 || len(ticks) == 0 {
		return nil, nil
	}

	bySymbol := make(map[string]model.Tick, len(ticks))
	for _, t := range ticks {
		bySymbol[t.Symbol] = t
	}

	// Step 1: trigger stops. STOP becomes MARKET, STOP_LIMIT becomes
	// LIMIT; the converted snapshot is reported so the client sees the
	// transition even if no fill follows.
	for _, id := range b.orderIDs {
		st := b.orders[id]
		if st.Type != model.Stop && st.Type != model.StopLimit {
			continue
		}
		tick, ok := bySymbol[st.Symbol]
		if !ok || !stopTriggered(st, tick) {
			continue
		}
		if st.Type == model.Stop {
			st.Type = model.Market
		} else {
			st.Type = model.Limit
		}
		st.Modified = now
		updated = append(updated, *st)
	}

	// Step 2: fill pass over MARKET and LIMIT orders. Iterate over a
	// copy of the id list because fully-filled orders are removed inline.
	ids := append([]string(nil), b.orderIDs...)
	for _, id := range ids {
		st, ok := b.orders[id]
		if !ok {
			continue
		}
		if st.Type != model.Market && st.Type != model.Limit {
			continue
		}
		tick, ok := bySymbol[st.Symbol]
		if !ok {
			continue
		}

		price, ok := matchPrice(st, tick)
		if !ok {
			continue
		}

		qty := b.fillQuantity(st, tick)
		if qty <= 0 {
			continue
		}

		adjPrice := b.slip(price, qty, tick, st.Side)
		comm := b.commission(adjPrice * qty)

		fill := model.Fill{
			ID:         uuid.NewString(),
			OrderID:    st.ID,
			Symbol:     st.Symbol,
			Side:       st.Side,
			Price:      adjPrice,
			Quantity:   qty,
			Commission: comm,
			Created:    now,
		}
		fills = append(fills, fill)

		st.FilledQuantity += qty
		st.RemainingQuantity -= qty
		st.Modified = now
		if st.RemainingQuantity > 0 {
			st.Status = model.StatusPartial
		} else {
			st.Status = model.StatusFilled
		}

		b.apply(fill, st.Effect, now)

		updated = append(updated, *st)
		if st.Status == model.StatusFilled {
			b.remove(st.ID)
		}
	}

	return updated, fills
}

// stopTriggered checks the stop condition. On ticks the comparison uses
// the traded price; on bars the high (BUY) or low (SELL). The asymmetry
// is intentional.
func stopTriggered(st *model.OrderState, tick model.Tick) bool {
	if bar := tick.Bar; bar != nil {
		if st.Side == model.Buy {
			return bar.High >= st.StopPrice
		}
		return bar.Low <= st.StopPrice
	}
	if st.Side == model.Buy {
		return tick.Price >= st.StopPrice
	}
	return tick.Price <= st.StopPrice
}

// matchPrice determines the execution price for a MARKET or LIMIT order
// against the tick, or reports that the order does not trade this batch.
func matchPrice(st *model.OrderState, tick model.Tick) (float64, bool) {
	if bar := tick.Bar; bar != nil {
		if st.Type == model.Market {
			return bar.Open, true
		}
		if st.Side == model.Buy {
			if bar.Low <= st.Price {
				return math.Min(st.Price, bar.Open), true
			}
			return 0, false
		}
		if bar.High >= st.Price {
			return math.Max(st.Price, bar.Open), true
		}
		return 0, false
	}

	// Tick mode: buys lift the ask, sells hit the bid, falling back to
	// the last traded price when the book side is absent.
	px := tick.Price
	if st.Side == model.Buy {
		if tick.Ask != nil {
			px = *tick.Ask
		}
		if st.Type == model.Limit && px > st.Price {
			return 0, false
		}
		return px, true
	}
	if tick.Bid != nil {
		px = *tick.Bid
	}
	if st.Type == model.Limit && px < st.Price {
		return 0, false
	}
	return px, true
}

// fillQuantity shapes the fill size under the volume participation cap.
func (b *Broker) fillQuantity(st *model.OrderState, tick model.Tick) float64 {
	vcfg := b.volumeSlippage()
	if vcfg == nil || vcfg.MaxParticipation <= 0 || tick.Volume <= 0 {
		return st.RemainingQuantity
	}

	cap := tick.Volume * vcfg.MaxParticipation
	if st.RemainingQuantity <= cap {
		return st.RemainingQuantity
	}
	if vcfg.AllowPartialFills {
		return cap
	}
	return 0
}

// slip adjusts the matched price: a fixed basis-points shift plus a
// market-impact term proportional to the filled share of volume. Buys pay
// up, sells receive less.
func (b *Broker) slip(price, qty float64, tick model.Tick, side model.Side) float64 {
	pcfg := b.priceSlippage()
	if pcfg == nil {
		return price
	}

	slip := pcfg.Fixed / 10000 * price
	if pcfg.MarketImpact > 0 && tick.Volume > 0 {
		slip += qty / tick.Volume * pcfg.MarketImpact * price
	}

	if side == model.Buy {
		return price + slip
	}
	return price - slip
}

// commission computes the fee on a fill's notional, clamped to the
// configured bounds.
func (b *Broker) commission(notional float64) float64 {
	ccfg := b.cfg.Commission
	if ccfg == nil {
		return 0
	}

	comm := ccfg.Rate*notional + ccfg.PerTrade
	if ccfg.Minimum != nil && comm < *ccfg.Minimum {
		comm = *ccfg.Minimum
	}
	if ccfg.Maximum != nil && comm > *ccfg.Maximum {
		comm = *ccfg.Maximum
	}
	return comm
}

func (b *Broker) priceSlippage() *model.PriceSlippageConfig {
	if b.cfg.Slippage == nil {
		return nil
	}
	return b.cfg.Slippage.Price
}

func (b *Broker) volumeSlippage() *model.VolumeSlippageConfig {
	if b.cfg.Slippage == nil {
		return nil
	}
	return b.cfg.Slippage.Volume
}
