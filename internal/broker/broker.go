package broker

import (
	"log/slog"
	"time"

	"github.com/rickgao/backsim/internal/model"
)

// Broker holds the open-order book and position for one client.
//
// Open orders are kept in insertion order so that matching passes are
// deterministic; a map alone would expose Go's randomized iteration
// order in observable outputs.
type Broker struct {
	cfg    model.BacktestConfig
	logger *slog.Logger

	orders   map[string]*model.OrderState
	orderIDs []string       // insertion order of the open-orders map
	symbols  map[string]int // refcount of open orders per symbol

	pos *model.Position
}

// New creates a broker seeded with the config's initial cash.
func New(cfg model.BacktestConfig, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		cfg:     cfg,
		logger:  logger,
		orders:  make(map[string]*model.OrderState),
		symbols: make(map[string]int),
		pos:     model.NewPosition(cfg.InitialCash),
	}
}

// Submit registers a batch of orders, returning one state per input in
// input order. Duplicate ids and invalid orders come back REJECTED
// without touching the book.
func (b *Broker) Submit(orders []model.Order, now time.Time) []model.OrderState {
	states := make([]model.OrderState, 0, len(orders))

	for _, o := range orders {
		st := model.OrderState{
			Order:             o,
			RemainingQuantity: o.Quantity,
			Status:            model.StatusOpen,
			Modified:          now,
		}

		if _, exists := b.orders[o.ID]; exists {
			st.Status = model.StatusRejected
			st.Reason = "duplicate order id"
			states = append(states, st)
			continue
		}
		if err := o.Validate(); err != nil {
			st.Status = model.StatusRejected
			st.Reason = err.Error()
			states = append(states, st)
			continue
		}

		entry := st
		b.orders[o.ID] = &entry
		b.orderIDs = append(b.orderIDs, o.ID)
		b.symbols[o.Symbol]++

		states = append(states, st)
	}

	return states
}

// Amend applies partial updates to open orders. Only matched ids are
// returned. Shrinking quantity below the filled amount cancels the order.
func (b *Broker) Amend(amends []model.Amend, now time.Time) []model.OrderState {
	var states []model.OrderState

	for _, a := range amends {
		st, ok := b.orders[a.ID]
		if !ok {
			continue
		}

		if a.Price != nil {
			st.Price = *a.Price
		}
		if a.StopPrice != nil {
			st.StopPrice = *a.StopPrice
		}
		if a.Quantity != nil {
			st.Quantity = *a.Quantity
			st.RemainingQuantity = st.Quantity - st.FilledQuantity
		}
		st.Modified = now

		if st.RemainingQuantity < 0 {
			st.Status = model.StatusCancelled
			b.remove(a.ID)
		}

		states = append(states, *st)
	}

	return states
}

// Cancel cancels the given open orders, returning only the matched ones.
func (b *Broker) Cancel(ids []string, now time.Time) []model.OrderState {
	var states []model.OrderState

	for _, id := range ids {
		st, ok := b.orders[id]
		if !ok {
			continue
		}
		st.Status = model.StatusCancelled
		st.Modified = now
		states = append(states, *st)
		b.remove(id)
	}

	return states
}

// CancelAll cancels every open order in insertion order.
func (b *Broker) CancelAll(now time.Time) []model.OrderState {
	ids := append([]string(nil), b.orderIDs...)
	return b.Cancel(ids, now)
}

// OpenOrders returns a snapshot of every open order in insertion order.
func (b *Broker) OpenOrders() []model.OrderState {
	states := make([]model.OrderState, 0, len(b.orderIDs))
	for _, id := range b.orderIDs {
		states = append(states, *b.orders[id])
	}
	return states
}

// Position returns a deep copy of the current position.
func (b *Broker) Position() *model.Position {
	return b.pos.Clone()
}

// FilterOpenSymbols returns the subset of ticks whose symbol has at least
// one open order. The replay loop uses this to decide whether a batch
// needs an order pass at all.
func (b *Broker) FilterOpenSymbols(ticks []model.Tick) []model.Tick {
	if len(b.symbols) == 0 {
		return nil
	}
	var out []model.Tick
	for _, t := range ticks {
		if b.symbols[t.Symbol] > 0 {
			out = append(out, t)
		}
	}
	return out
}

// remove drops an order from the book and decrements its symbol refcount.
func (b *Broker) remove(id string) {
	st, ok := b.orders[id]
	if !ok {
		return
	}
	delete(b.orders, id)

	for i, oid := range b.orderIDs {
		if oid == id {
			b.orderIDs = append(b.orderIDs[:i], b.orderIDs[i+1:]...)
			break
		}
	}

	if b.symbols[st.Symbol] > 1 {
		b.symbols[st.Symbol]--
	} else {
		delete(b.symbols, st.Symbol)
	}
}
