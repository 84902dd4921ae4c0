package queue

import "github.com/quantfold/backtest/pkg/book"

// ProRata is an alternate queue position model for venues that share
// fills across the level proportionally to resting size instead of by
// arrival order. Phantom bookkeeping is identical to FIFO; only the
// allocation step differs: the deepest penetration past any order's
// phantom volume forms a pool that is split pro rata over the eligible
// orders, largest remainder first.
type ProRata struct{}

// NewProRata returns the pro-rata allocation model.
func NewProRata() *ProRata { return &ProRata{} }

// OnTrade applies a trade of qty to the level's queue.
func (m *ProRata) OnTrade(qty int64, queue []*book.LocalOrder) []book.Fill {
	for _, lo := range queue {
		lo.PhantomVolume -= qty
		lo.CumulativeTraded += qty
	}

	var pool int64
	var eligible []*book.LocalOrder
	var restingTotal int64
	for _, lo := range queue {
		excess := -lo.PhantomVolume
		if excess <= 0 || lo.Remaining == 0 {
			continue
		}
		if excess > pool {
			pool = excess
		}
		eligible = append(eligible, lo)
		restingTotal += lo.Remaining
	}
	if pool == 0 || restingTotal == 0 {
		return nil
	}
	if pool > restingTotal {
		pool = restingTotal
	}
	// The deepest excess carries penetration from earlier trades once
	// phantom has gone negative; this trade only hands out qty.
	if pool > qty {
		pool = qty
	}

	// Integer pro-rata with the remainder going to the earliest
	// eligible orders, capped by each order's own excess.
	fills := make([]book.Fill, 0, len(eligible))
	allocated := int64(0)
	shares := make([]int64, len(eligible))
	for i, lo := range eligible {
		shares[i] = pool * lo.Remaining / restingTotal
		allocated += shares[i]
	}
	for i := range eligible {
		if allocated >= pool {
			break
		}
		if shares[i] < eligible[i].Remaining {
			shares[i]++
			allocated++
		}
	}
	for i, lo := range eligible {
		fill := shares[i]
		if excess := -lo.PhantomVolume; fill > excess {
			fill = excess
		}
		if fill > lo.Remaining {
			fill = lo.Remaining
		}
		if fill <= 0 {
			continue
		}
		lo.Remaining -= fill
		fills = append(fills, book.Fill{Order: lo, Qty: fill})
	}
	return fills
}

// OnModify shifts every resting order's phantom volume by the size
// delta, same as FIFO.
func (m *ProRata) OnModify(prev, next int64, queue []*book.LocalOrder) {
	delta := next - prev
	for _, lo := range queue {
		lo.PhantomVolume += delta
	}
}
