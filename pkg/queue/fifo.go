// Package queue provides queue position models for the order book.
// A model decides how much of an observed trade is attributable to the
// participant's resting orders versus the anonymous flow queued ahead
// of them.
package queue

import "github.com/quantfold/backtest/pkg/book"

// FIFO is the production queue position model. Every order tracks the
// displayed volume that was ahead of it when it joined its level
// (phantom volume); a trade must exhaust that volume before the order
// becomes eligible, and eligible orders then fill strictly in arrival
// order. Fills are never optimistic: the portion of a trade claimed by
// an earlier order is unavailable to later ones.
type FIFO struct{}

// NewFIFO returns the FIFO phantom-volume model.
func NewFIFO() *FIFO { return &FIFO{} }

// OnTrade applies a trade of qty to the level's queue and returns the
// resulting fills in queue order.
func (m *FIFO) OnTrade(qty int64, queue []*book.LocalOrder) []book.Fill {
	for _, lo := range queue {
		lo.PhantomVolume -= qty
		lo.CumulativeTraded += qty
	}

	var fills []book.Fill
	var allocated int64
	for _, lo := range queue {
		excess := -lo.PhantomVolume
		if excess < 0 {
			excess = 0
		}
		available := excess - allocated
		if available < 0 {
			available = 0
		}
		fill := lo.Remaining
		if fill > available {
			fill = available
		}
		// Excess carries penetration from earlier trades once phantom
		// has gone negative; this trade can only hand out its own
		// quantity.
		if unfilled := qty - allocated; fill > unfilled {
			fill = unfilled
		}
		if fill > 0 {
			lo.Remaining -= fill
			allocated += fill
			fills = append(fills, book.Fill{Order: lo, Qty: fill})
		}
	}
	return fills
}

// OnModify applies a displayed-size change with no trade attached: the
// delta shifts every resting order's phantom volume uniformly. A
// modify never produces fills.
func (m *FIFO) OnModify(prev, next int64, queue []*book.LocalOrder) {
	delta := next - prev
	for _, lo := range queue {
		lo.PhantomVolume += delta
	}
}
