// Package exchange simulates one venue for one security. It owns the
// local order book, turns submitted order flow into execution reports,
// and reconciles market data against the participant's resting orders.
package exchange

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/book"
	"github.com/quantfold/backtest/pkg/schema"
)

var (
	// ErrInvalidOrderType is returned for order types the simulator
	// does not model. A configuration error, never retried.
	ErrInvalidOrderType = errors.New("invalid order type")

	// ErrInsufficientLiquidity is returned when a market order cannot
	// be fully matched against displayed liquidity. Partial market
	// fills are not modeled; failing loudly beats corrupting P&L.
	ErrInsufficientLiquidity = errors.New("insufficient displayed liquidity")

	// ErrEmptyBook is returned when a market order needs repricing
	// but the opposite side has no price at all.
	ErrEmptyBook = errors.New("empty opposite side")
)

var exchangeSeq atomic.Int64

// Exchange is a simulated venue. One instance owns one order book;
// the backtest driver is its sole caller, so no locking is needed.
type Exchange struct {
	id         int64
	book       *book.Book
	fees       FeeModel
	network    LatencyModel
	processing LatencyModel
	logger     log.Logger
	oidSeq     int64
}

// New creates a simulated exchange around a fresh order book using the
// given queue position model and collaborators.
func New(model book.Model, fees FeeModel, network, processing LatencyModel, logger log.Logger) *Exchange {
	return &Exchange{
		id:         exchangeSeq.Add(1),
		book:       book.New(model, logger),
		fees:       fees,
		network:    network,
		processing: processing,
		logger:     logger,
	}
}

// Book exposes the owned order book for inspection.
func (e *Exchange) Book() *book.Book { return e.book }

// Network is the venue's network latency model.
func (e *Exchange) Network() LatencyModel { return e.network }

// OrderProcessing is the venue's order handling latency model.
func (e *Exchange) OrderProcessing() LatencyModel { return e.processing }

// SubmitOrder runs one order through the matching state machine and
// returns the resulting execution reports in emission order. Protocol
// errors (duplicate oid, unknown order type) and market condition
// failures (self fill, unmatchable market order) return an error
// instead of reports.
func (e *Exchange) SubmitOrder(order schema.Order) ([]schema.ExecutionReport, error) {
	if order.ClientOID == "" {
		order.ClientOID = fmt.Sprintf("client_%d_%d", e.id, e.oidSeq)
		e.oidSeq++
	}
	if _, ok := e.book.Order(order.ClientOID); ok {
		return nil, fmt.Errorf("%w: %s", book.ErrDuplicateOID, order.ClientOID)
	}

	switch order.Type {
	case schema.OrderTypeMarket:
		return e.submitMarket(order)
	case schema.OrderTypeLimit:
		return e.submitLimit(order)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderType, order.Type)
	}
}

func (e *Exchange) submitMarket(order schema.Order) ([]schema.ExecutionReport, error) {
	matches, err := e.book.MatchingOrders(order)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		if order.TimeInForce != schema.TimeInForceGTC {
			return []schema.ExecutionReport{e.report(order, schema.ExecTypeRejected, schema.OrderStatusRejected, 0, 0, 0)}, nil
		}
		best, ok := e.oppositeBest(order.Side)
		if !ok {
			return nil, fmt.Errorf("%w: cannot reprice market %s", ErrEmptyBook, order.ClientOID)
		}
		repriced := order
		repriced.Type = schema.OrderTypeLimit
		repriced.Price = best
		e.logger.Debug("repricing market order as limit",
			"oid", order.ClientOID, "price", best)
		return e.submitLimit(repriced)
	}

	total := matchedSize(matches)
	if total < order.Size {
		return nil, fmt.Errorf("%w: matched %d of %d", ErrInsufficientLiquidity, total, order.Size)
	}

	e.book.Consume(order.Side.Opposite(), matches)
	px := e.vwap(order.Side, matches, total, false)
	return []schema.ExecutionReport{
		e.reportPx(order, schema.ExecTypeTrade, schema.OrderStatusFilled, total, px, total, 0),
	}, nil
}

func (e *Exchange) submitLimit(order schema.Order) ([]schema.ExecutionReport, error) {
	matches, err := e.book.MatchingOrders(order)
	if err != nil {
		return nil, err
	}
	total := matchedSize(matches)

	switch {
	case total == 0:
		if order.TimeInForce != schema.TimeInForceGTC {
			return []schema.ExecutionReport{e.report(order, schema.ExecTypeRejected, schema.OrderStatusRejected, 0, 0, 0)}, nil
		}
		if _, err := e.book.AddLocalOrder(order); err != nil {
			return nil, err
		}
		return []schema.ExecutionReport{
			e.report(order, schema.ExecTypeNew, schema.OrderStatusNew, 0, 0, order.Size),
		}, nil

	case total >= order.Size:
		e.book.Consume(order.Side.Opposite(), matches)
		px := e.vwap(order.Side, matches, total, false)
		return []schema.ExecutionReport{
			e.reportPx(order, schema.ExecTypeTrade, schema.OrderStatusFilled, total, px, total, 0),
		}, nil
	}

	// Partial match: behavior hinges on time in force.
	switch order.TimeInForce {
	case schema.TimeInForceGTC:
		e.book.Consume(order.Side.Opposite(), matches)
		px := e.vwap(order.Side, matches, total, false)
		lo, err := e.book.AddLocalOrder(order)
		if err != nil {
			return nil, err
		}
		lo.Remaining = order.Size - total
		return []schema.ExecutionReport{
			e.report(order, schema.ExecTypeNew, schema.OrderStatusNew, 0, 0, order.Size),
			e.reportPx(order, schema.ExecTypeTrade, schema.OrderStatusPartiallyFilled, total, px, total, order.Size-total),
		}, nil

	case schema.TimeInForceIOC:
		e.book.Consume(order.Side.Opposite(), matches)
		px := e.vwap(order.Side, matches, total, false)
		return []schema.ExecutionReport{
			e.reportPx(order, schema.ExecTypeTrade, schema.OrderStatusPartiallyFilled, total, px, total, order.Size-total),
			e.report(order, schema.ExecTypeCanceled, schema.OrderStatusPartiallyFilled, 0, total, 0),
		}, nil

	default: // FOK is all or nothing.
		return []schema.ExecutionReport{
			e.report(order, schema.ExecTypeRejected, schema.OrderStatusRejected, 0, 0, 0),
		}, nil
	}
}

// CancelOrder removes a resting order. Unknown, already canceled or
// empty ids produce a rejection report, never an error: a cancel that
// misses is a modeled outcome.
func (e *Exchange) CancelOrder(oid string) []schema.ExecutionReport {
	lo, ok := e.book.Order(oid)
	if !ok || !e.book.CancelOrder(oid) {
		rep := schema.ExecutionReport{
			ClientOID:   oid,
			ExecType:    schema.ExecTypeRejected,
			OrderStatus: schema.OrderStatusRejected,
		}
		return []schema.ExecutionReport{rep}
	}
	return []schema.ExecutionReport{
		e.report(lo.Order, schema.ExecTypeCanceled, schema.OrderStatusCanceled, 0, 0, 0),
	}
}

// OnMarketData feeds one decoded record into the book. Depth actions
// produce no reports; trade prints produce one maker-side report per
// local order fill.
func (e *Exchange) OnMarketData(rec schema.Record) ([]schema.ExecutionReport, error) {
	switch rec.Action {
	case schema.ActionTrade:
		fills, err := e.book.OnTrade(rec.Side, rec.Price, rec.Size)
		if err != nil {
			return nil, err
		}
		reports := make([]schema.ExecutionReport, 0, len(fills))
		for _, f := range fills {
			reports = append(reports, e.makerReport(f))
		}
		return reports, nil
	case schema.ActionClear:
		return nil, e.book.OnMarketUpdate(nil)
	default:
		return nil, e.book.OnMarketUpdate(rec.Levels)
	}
}

func (e *Exchange) makerReport(f book.Fill) schema.ExecutionReport {
	lo := f.Order
	notional := f.Qty * lo.Order.Price
	fee := e.fees.Fee(notional, true)
	px := fillPrice(lo.Order.Side, notional, fee, f.Qty)

	status := schema.OrderStatusPartiallyFilled
	if lo.Remaining == 0 {
		status = schema.OrderStatusFilled
	}
	return e.reportPx(lo.Order, schema.ExecTypeTrade, status,
		f.Qty, px, lo.Order.Size-lo.Remaining, lo.Remaining)
}

func (e *Exchange) oppositeBest(s schema.Side) (int64, bool) {
	if s == schema.SideBuy {
		return e.book.BestAsk()
	}
	return e.book.BestBid()
}

// vwap returns the fee-inclusive size-weighted price over matches.
func (e *Exchange) vwap(side schema.Side, matches []book.Match, qty int64, isMaker bool) int64 {
	var notional int64
	for _, m := range matches {
		notional += m.Price * m.Size
	}
	fee := e.fees.Fee(notional, isMaker)
	return fillPrice(side, notional, fee, qty)
}

// fillPrice folds the fee into the average price: buyers pay it on
// top, sellers give it up. Integer division truncates.
func fillPrice(side schema.Side, notional, fee, qty int64) int64 {
	if qty == 0 {
		return 0
	}
	if side == schema.SideBuy {
		return (notional + fee) / qty
	}
	return (notional - fee) / qty
}

func matchedSize(matches []book.Match) int64 {
	var total int64
	for _, m := range matches {
		total += m.Size
	}
	return total
}

func (e *Exchange) report(o schema.Order, et schema.ExecType, st schema.OrderStatus, filled, cum, leaves int64) schema.ExecutionReport {
	return schema.ExecutionReport{
		ExchangeID:  o.ExchangeID,
		SecurityID:  o.SecurityID,
		ClientOID:   o.ClientOID,
		ExecType:    et,
		OrderStatus: st,
		FilledQty:   filled,
		CumQty:      cum,
		LeavesQty:   leaves,
	}
}

func (e *Exchange) reportPx(o schema.Order, et schema.ExecType, st schema.OrderStatus, filled, px, cum, leaves int64) schema.ExecutionReport {
	return schema.ExecutionReport{
		ExchangeID:  o.ExchangeID,
		SecurityID:  o.SecurityID,
		ClientOID:   o.ClientOID,
		ExecType:    et,
		OrderStatus: st,
		FilledQty:   filled,
		FilledPrice: px,
		CumQty:      cum,
		LeavesQty:   leaves,
	}
}
