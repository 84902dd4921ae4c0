// Package strategy ships a reference strategy for the backtest
// driver. It is deliberately simple: the point is exercising the
// simulation loop, not alpha.
package strategy

import (
	"fmt"

	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/backtest"
	"github.com/quantfold/backtest/pkg/schema"
)

// Passive joins the best bid with a single resting order and follows
// the quote: when the best bid moves away from its order it cancels
// and requotes. Buying stops once the position cap is reached.
type Passive struct {
	exchangeID int64
	securityID int64
	quoteSize  int64
	cap        int64
	processing int64
	logger     log.Logger

	position      int64
	openOID       string
	openPrice     int64
	pendingCancel bool
	oidSeq        int64
}

// NewPassive builds the strategy. processing is the simulated decision
// time in nanoseconds.
func NewPassive(exchangeID, securityID, quoteSize, positionCap, processing int64, logger log.Logger) *Passive {
	return &Passive{
		exchangeID: exchangeID,
		securityID: securityID,
		quoteSize:  quoteSize,
		cap:        positionCap,
		processing: processing,
		logger:     logger,
	}
}

// Position returns the filled quantity accumulated so far.
func (p *Passive) Position() int64 { return p.position }

// OnMarketData requotes against the record's top of book.
func (p *Passive) OnMarketData(rec schema.Record) []backtest.LocalMessage {
	if rec.Action.IsTrade() || len(rec.Levels) == 0 {
		return nil
	}
	bestBid := rec.Levels[0].BidPx
	if bestBid == 0 {
		return nil
	}

	if p.openOID != "" {
		if p.openPrice != bestBid && !p.pendingCancel {
			p.pendingCancel = true
			return []backtest.LocalMessage{{Cancel: &schema.CancelOrder{
				ExchangeID: p.exchangeID,
				SecurityID: p.securityID,
				ClientOID:  p.openOID,
			}}}
		}
		return nil
	}

	size := p.quoteSize
	if room := p.cap - p.position; room < size {
		size = room
	}
	if size <= 0 {
		return nil
	}

	p.oidSeq++
	p.openOID = fmt.Sprintf("passive_%d", p.oidSeq)
	p.openPrice = bestBid
	p.pendingCancel = false
	order := &schema.Order{
		ExchangeID:  p.exchangeID,
		SecurityID:  p.securityID,
		ClientOID:   p.openOID,
		Side:        schema.SideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       bestBid,
		Size:        size,
	}
	p.logger.Debug("quoting", "oid", p.openOID, "price", bestBid, "size", size)
	return []backtest.LocalMessage{{Order: order}}
}

// OnExecutionReport tracks position and open-order state.
func (p *Passive) OnExecutionReport(rep schema.ExecutionReport) {
	switch rep.ExecType {
	case schema.ExecTypeTrade:
		p.position += rep.FilledQty
		if rep.OrderStatus == schema.OrderStatusFilled && rep.ClientOID == p.openOID {
			p.openOID = ""
			p.pendingCancel = false
		}
	case schema.ExecTypeCanceled:
		if rep.ClientOID == p.openOID {
			p.openOID = ""
			p.pendingCancel = false
		}
	case schema.ExecTypeRejected:
		if rep.ClientOID == p.openOID {
			if p.pendingCancel {
				// Cancel missed; the order is already gone.
				p.pendingCancel = false
			}
			p.openOID = ""
		}
	}
}

// ProcessingTime is the simulated decision latency.
func (p *Passive) ProcessingTime() int64 { return p.processing }
