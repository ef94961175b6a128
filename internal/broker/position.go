package broker

import (
	"time"

	"github.com/rickgao/backsim/internal/model"
)

// apply settles a fill into the position. Opens append a lot to the tail
// of the matching queue; closes consume from the head (FIFO), crediting
// realised PnL. Commission always debits cash. Cash is allowed to go
// negative; that is margin usage, not an error.
func (b *Broker) apply(fill model.Fill, effect model.Effect, now time.Time) {
	pos := b.pos
	notional := fill.Price * fill.Quantity

	switch effect {
	case model.OpenLong:
		pos.Cash -= notional
		pos.Long[fill.Symbol] = append(pos.Long[fill.Symbol], model.Lot{
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			TotalCost: notional,
		})

	case model.OpenShort:
		pos.Cash += notional
		pos.Short[fill.Symbol] = append(pos.Short[fill.Symbol], model.Lot{
			Quantity:  fill.Quantity,
			Price:     fill.Price,
			TotalCost: notional, // proceeds for shorts
		})

	case model.CloseLong:
		closed := consumeLots(pos.Long, fill.Symbol, fill.Quantity, func(qty, entry float64) {
			pos.RealisedPnL += (fill.Price - entry) * qty
		})
		pos.Cash += fill.Price * closed

	case model.CloseShort:
		closed := consumeLots(pos.Short, fill.Symbol, fill.Quantity, func(qty, entry float64) {
			pos.RealisedPnL += (entry - fill.Price) * qty
		})
		pos.Cash -= fill.Price * closed
	}

	pos.Cash -= fill.Commission
	pos.TotalCommission += fill.Commission
	pos.Modified = now
}

// consumeLots takes up to qty from the head of the symbol's lot queue,
// invoking settle once per consumed slice with its quantity and entry
// price. It returns the quantity actually consumed, which may be less
// than requested if the queue runs dry; the excess has no position
// effect. Exhausted lots are removed so quantities stay strictly positive.
func consumeLots(side map[string][]model.Lot, symbol string, qty float64, settle func(qty, entry float64)) float64 {
	lots := side[symbol]
	consumed := 0.0

	for len(lots) > 0 && qty > 0 {
		lot := &lots[0]
		take := qty
		if take > lot.Quantity {
			take = lot.Quantity
		}

		settle(take, lot.Price)
		consumed += take
		qty -= take

		frac := take / lot.Quantity
		lot.TotalCost -= lot.TotalCost * frac
		lot.Quantity -= take

		if lot.Quantity <= 0 {
			lots = lots[1:]
		}
	}

	if len(lots) == 0 {
		delete(side, symbol)
	} else {
		side[symbol] = lots
	}
	return consumed
}
