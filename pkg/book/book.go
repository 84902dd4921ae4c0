// Package book implements a single-participant market-by-price order
// book. It reconciles externally observed depth and trade prints with
// the participant's own resting orders, using a pluggable queue
// position model to decide how much of each observed trade the
// participant could realistically have received.
package book

import (
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/schema"
)

var (
	// ErrDuplicateOID is returned when a client order id is already
	// resting on either side of the book.
	ErrDuplicateOID = errors.New("duplicate client oid")

	// ErrSelfFill is returned when an incoming order would match a
	// price level holding the participant's own resting orders.
	ErrSelfFill = errors.New("self filling triggered")

	// ErrMalformedBook indicates a price present in a side's index
	// with no corresponding level object. Not recoverable.
	ErrMalformedBook = errors.New("malformed local book")

	// ErrCrossedBook is returned when a market update would cross a
	// price level holding local orders.
	ErrCrossedBook = errors.New("crossed book update")
)

// LocalOrder is a participant order resting on the book.
//
// PhantomVolume is the displayed market size believed to be queued
// ahead of this order at its price level. It may go negative once
// observed trade flow exceeds the volume that was originally ahead.
// CumulativeTraded counts all trade volume observed at this order's
// level since it began resting, whether or not this order filled.
type LocalOrder struct {
	Order            schema.Order
	Remaining        int64
	PhantomVolume    int64
	CumulativeTraded int64
}

// Fill is one local order fill produced by trade reconciliation.
type Fill struct {
	Order *LocalOrder
	Qty   int64
}

// Match is displayed liquidity an incoming order would take at one
// price level.
type Match struct {
	Price int64
	Size  int64
}

// Model decides how observed flow at one price level is shared between
// anonymous queue depth and the local orders resting there. OnTrade
// mutates phantom volume, cumulative counters and remaining quantities
// of the queued orders and returns the resulting fills in queue order;
// it does not resize the queue. OnModify applies a displayed-size
// change with no trade attached.
type Model interface {
	OnTrade(qty int64, queue []*LocalOrder) []Fill
	OnModify(prev, next int64, queue []*LocalOrder)
}

// Level is one price level: anonymous displayed size plus the FIFO
// queue of local orders resting at that price.
type Level struct {
	Price int64
	Size  int64
	Queue []*LocalOrder
}

// bookSide keeps one side's prices in priority order (bids descending,
// asks ascending) next to a price index.
type bookSide struct {
	prices     []int64
	levels     map[int64]*Level
	descending bool
}

func newBookSide(descending bool) *bookSide {
	return &bookSide{levels: make(map[int64]*Level), descending: descending}
}

// rank maps a price onto the side's sort order.
func (s *bookSide) rank(price int64) int64 {
	if s.descending {
		return -price
	}
	return price
}

func (s *bookSide) insert(price int64) *Level {
	lvl := &Level{Price: price}
	s.levels[price] = lvl
	i := sort.Search(len(s.prices), func(i int) bool {
		return s.rank(s.prices[i]) >= s.rank(price)
	})
	s.prices = append(s.prices, 0)
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = price
	return lvl
}

func (s *bookSide) remove(price int64) {
	delete(s.levels, price)
	for i, p := range s.prices {
		if p == price {
			s.prices = append(s.prices[:i], s.prices[i+1:]...)
			return
		}
	}
}

func (s *bookSide) best() (int64, bool) {
	if len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[0], true
}

// Book is the per-security order book. One exchange simulator owns
// exactly one Book; there is no internal locking.
type Book struct {
	bids   *bookSide
	asks   *bookSide
	locals map[schema.Side]map[string]*LocalOrder
	model  Model
	logger log.Logger
	oidSeq int64
}

// New creates an empty book using the given queue position model.
func New(model Model, logger log.Logger) *Book {
	return &Book{
		bids: newBookSide(true),
		asks: newBookSide(false),
		locals: map[schema.Side]map[string]*LocalOrder{
			schema.SideBuy:  make(map[string]*LocalOrder),
			schema.SideSell: make(map[string]*LocalOrder),
		},
		model:  model,
		logger: logger,
	}
}

func (b *Book) side(s schema.Side) *bookSide {
	if s == schema.SideBuy {
		return b.bids
	}
	return b.asks
}

// Order looks a resting order up by client oid on either side.
func (b *Book) Order(oid string) (*LocalOrder, bool) {
	if lo, ok := b.locals[schema.SideBuy][oid]; ok {
		return lo, true
	}
	lo, ok := b.locals[schema.SideSell][oid]
	return lo, ok
}

// Level returns the level at price on the given side, if present.
func (b *Book) Level(s schema.Side, price int64) (*Level, bool) {
	lvl, ok := b.side(s).levels[price]
	return lvl, ok
}

// Prices returns the side's prices in priority order.
func (b *Book) Prices(s schema.Side) []int64 {
	side := b.side(s)
	out := make([]int64, len(side.prices))
	copy(out, side.prices)
	return out
}

// LocalCount returns how many local orders rest on the given side.
func (b *Book) LocalCount(s schema.Side) int {
	return len(b.locals[s])
}

// BestBid returns the highest bid price on the book.
func (b *Book) BestBid() (int64, bool) { return b.bids.best() }

// BestAsk returns the lowest ask price on the book.
func (b *Book) BestAsk() (int64, bool) { return b.asks.best() }

// AddLocalOrder rests an order on the book. The order's client oid
// must be unique across both sides; one is generated when absent. The
// new order's phantom volume is the level's displayed size at the
// moment it joins the queue.
func (b *Book) AddLocalOrder(order schema.Order) (*LocalOrder, error) {
	if order.ClientOID == "" {
		order.ClientOID = fmt.Sprintf("internal_%d", b.oidSeq)
		b.oidSeq++
	}
	if _, ok := b.Order(order.ClientOID); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOID, order.ClientOID)
	}

	side := b.side(order.Side)
	lvl, ok := side.levels[order.Price]
	if !ok {
		lvl = side.insert(order.Price)
	}
	lo := &LocalOrder{
		Order:         order,
		Remaining:     order.Size,
		PhantomVolume: lvl.Size,
	}
	lvl.Queue = append(lvl.Queue, lo)
	b.locals[order.Side][order.ClientOID] = lo

	b.logger.Debug("local order resting",
		"oid", order.ClientOID, "side", order.Side,
		"price", order.Price, "size", order.Size,
		"phantom", lo.PhantomVolume)
	return lo, nil
}

// CancelOrder removes a resting order and reports whether it existed.
// A level created solely for the order is removed with it.
func (b *Book) CancelOrder(oid string) bool {
	for _, s := range []schema.Side{schema.SideBuy, schema.SideSell} {
		lo, ok := b.locals[s][oid]
		if !ok {
			continue
		}
		delete(b.locals[s], oid)
		side := b.side(s)
		if lvl, ok := side.levels[lo.Order.Price]; ok {
			for i, q := range lvl.Queue {
				if q == lo {
					lvl.Queue = append(lvl.Queue[:i], lvl.Queue[i+1:]...)
					break
				}
			}
			if lvl.Size == 0 && len(lvl.Queue) == 0 {
				side.remove(lvl.Price)
			}
		}
		b.logger.Debug("local order canceled", "oid", oid, "side", s)
		return true
	}
	return false
}

// qualifies reports whether a trade print at tradePrice can reach a
// resting level at levelPrice on the given resting side.
func qualifies(restingSide schema.Side, tradePrice, levelPrice int64) bool {
	if restingSide == schema.SideBuy {
		return tradePrice <= levelPrice
	}
	return tradePrice >= levelPrice
}

// OnTrade reconciles an observed trade print against the book. The
// print's side is the aggressor's, so a sell print sweeps resting bids
// and a buy print sweeps resting asks, best price first, while the
// print price is at least as aggressive as the level price. At each
// qualifying level the queue position model sees the full remaining
// trade quantity; the level's displayed size then absorbs whatever the
// model did not allocate to local fills.
func (b *Book) OnTrade(tradeSide schema.Side, price, size int64) ([]Fill, error) {
	restingSide := tradeSide.Opposite()
	side := b.side(restingSide)

	var fills []Fill
	rem := size

	prices := make([]int64, len(side.prices))
	copy(prices, side.prices)
	for _, px := range prices {
		if rem <= 0 || !qualifies(restingSide, price, px) {
			break
		}
		lvl, ok := side.levels[px]
		if !ok {
			return nil, fmt.Errorf("%w: price %d indexed with no level", ErrMalformedBook, px)
		}

		levelFills := b.model.OnTrade(rem, lvl.Queue)
		var allocated int64
		for _, f := range levelFills {
			allocated += f.Qty
			if f.Order.Remaining == 0 {
				delete(b.locals[restingSide], f.Order.Order.ClientOID)
			}
		}
		b.pruneFilled(lvl)
		fills = append(fills, levelFills...)

		consumed := rem - allocated
		if consumed < 0 {
			consumed = 0
		}
		if consumed > lvl.Size {
			consumed = lvl.Size
		}
		// Emptied levels stay on the book; only market updates
		// retire them.
		lvl.Size -= consumed
		rem -= allocated + consumed
	}

	if len(fills) > 0 {
		b.logger.Debug("trade print filled local orders",
			"side", tradeSide, "price", price, "size", size,
			"fills", len(fills))
	}
	return fills, nil
}

func (b *Book) pruneFilled(lvl *Level) {
	kept := lvl.Queue[:0]
	for _, lo := range lvl.Queue {
		if lo.Remaining > 0 {
			kept = append(kept, lo)
		}
	}
	lvl.Queue = kept
}

// localExtremes returns the highest bid price and lowest ask price
// carrying local orders, with ok flags.
func (b *Book) localExtremes() (maxBid int64, hasBid bool, minAsk int64, hasAsk bool) {
	for _, lo := range b.locals[schema.SideBuy] {
		if !hasBid || lo.Order.Price > maxBid {
			maxBid, hasBid = lo.Order.Price, true
		}
	}
	for _, lo := range b.locals[schema.SideSell] {
		if !hasAsk || lo.Order.Price < minAsk {
			minAsk, hasAsk = lo.Order.Price, true
		}
	}
	return
}

// OnMarketUpdate replaces the anonymous depth with the update's
// levels. Levels absent from the update, or reported with size zero,
// are removed unless local orders rest there, in which case they are
// retained at displayed size zero. An update that would cross a level
// carrying local orders fails before any mutation.
func (b *Book) OnMarketUpdate(pairs []schema.BidAskPair) error {
	maxLocalBid, hasLocalBid, minLocalAsk, hasLocalAsk := b.localExtremes()
	for _, p := range pairs {
		if hasLocalAsk && p.BidSz > 0 && p.BidPx >= minLocalAsk {
			return fmt.Errorf("%w: update bid %d crosses local ask %d",
				ErrCrossedBook, p.BidPx, minLocalAsk)
		}
		if hasLocalBid && p.AskSz > 0 && p.AskPx <= maxLocalBid {
			return fmt.Errorf("%w: update ask %d crosses local bid %d",
				ErrCrossedBook, p.AskPx, maxLocalBid)
		}
	}

	presentBids := make(map[int64]bool, len(pairs))
	presentAsks := make(map[int64]bool, len(pairs))
	for _, p := range pairs {
		if p.BidSz > 0 {
			presentBids[p.BidPx] = true
			b.applyLevel(b.bids, p.BidPx, p.BidSz)
		}
		if p.AskSz > 0 {
			presentAsks[p.AskPx] = true
			b.applyLevel(b.asks, p.AskPx, p.AskSz)
		}
	}

	b.sweepAbsent(b.bids, presentBids)
	b.sweepAbsent(b.asks, presentAsks)
	return nil
}

func (b *Book) applyLevel(side *bookSide, price, size int64) {
	lvl, ok := side.levels[price]
	if !ok {
		lvl = side.insert(price)
		lvl.Size = size
		return
	}
	if lvl.Size != size && len(lvl.Queue) > 0 {
		b.model.OnModify(lvl.Size, size, lvl.Queue)
	}
	lvl.Size = size
}

func (b *Book) sweepAbsent(side *bookSide, present map[int64]bool) {
	prices := make([]int64, len(side.prices))
	copy(prices, side.prices)
	for _, px := range prices {
		if present[px] {
			continue
		}
		lvl := side.levels[px]
		if len(lvl.Queue) == 0 {
			side.remove(px)
			continue
		}
		if lvl.Size != 0 {
			b.model.OnModify(lvl.Size, 0, lvl.Queue)
			lvl.Size = 0
		}
	}
}

// MatchingOrders walks the opposite side best price first and returns
// the displayed liquidity the incoming order would take, stopping at
// the limit price for limit orders. The book is not mutated. A
// qualifying level holding any local order is a self-fill and fails:
// with one participant, crossing your own order is a logic error.
func (b *Book) MatchingOrders(order schema.Order) ([]Match, error) {
	restingSide := order.Side.Opposite()
	side := b.side(restingSide)

	var matches []Match
	rem := order.Size
	for _, px := range side.prices {
		if rem <= 0 {
			break
		}
		if order.Type == schema.OrderTypeLimit && !crossable(order, px) {
			break
		}
		lvl, ok := side.levels[px]
		if !ok {
			return nil, fmt.Errorf("%w: price %d indexed with no level", ErrMalformedBook, px)
		}
		if len(lvl.Queue) > 0 {
			return nil, fmt.Errorf("%w: level %d holds local orders", ErrSelfFill, px)
		}
		take := rem
		if take > lvl.Size {
			take = lvl.Size
		}
		if take > 0 {
			matches = append(matches, Match{Price: px, Size: take})
			rem -= take
		}
	}
	return matches, nil
}

// crossable reports whether a limit order can trade at levelPrice.
func crossable(order schema.Order, levelPrice int64) bool {
	if order.Side == schema.SideBuy {
		return levelPrice <= order.Price
	}
	return levelPrice >= order.Price
}

// Consume removes matched displayed liquidity from the resting side.
// Levels emptied of both size and local orders are dropped.
func (b *Book) Consume(restingSide schema.Side, matches []Match) {
	side := b.side(restingSide)
	for _, m := range matches {
		lvl, ok := side.levels[m.Price]
		if !ok {
			continue
		}
		lvl.Size -= m.Size
		if lvl.Size <= 0 {
			lvl.Size = 0
			if len(lvl.Queue) == 0 {
				side.remove(m.Price)
			}
		}
	}
}
