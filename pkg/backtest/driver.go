// Package backtest runs a strategy against historical market-by-price
// data through a simulated exchange. Its driver is a single-threaded
// discrete event loop: every market record, order message and
// execution report is an event processed to completion in timestamp
// order, with simulated latencies deciding when knock-on events land.
package backtest

import (
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/log"

	"github.com/quantfold/backtest/pkg/exchange"
	"github.com/quantfold/backtest/pkg/marketdata"
	"github.com/quantfold/backtest/pkg/metrics"
	"github.com/quantfold/backtest/pkg/schema"
)

// ErrNotPrepared is returned when execution starts before Prepare has
// loaded the market data.
var ErrNotPrepared = errors.New("call Prepare before executing")

// Strategy is the decision-making collaborator. OnMarketData returns
// the order flow the strategy wants to send in reaction to a record;
// ProcessingTime models how long the decision took, in nanoseconds.
type Strategy interface {
	OnMarketData(rec schema.Record) []LocalMessage
	OnExecutionReport(rep schema.ExecutionReport)
	ProcessingTime() int64
}

// Driver wires a market data source, one simulated exchange and one
// strategy into a deterministic event loop.
type Driver struct {
	exchange *exchange.Exchange
	strategy Strategy
	source   marketdata.Source
	network  exchange.LatencyModel
	logger   log.Logger
	meter    *metrics.Metrics

	queue    eventQueue
	prepared bool
	now      int64
	reports  []schema.ExecutionReport
}

// NewDriver builds a driver. The network latency model governs the
// strategy-to-venue hop in both directions; the venue's own order
// processing latency comes from the exchange. meter may be nil.
func NewDriver(ex *exchange.Exchange, strat Strategy, source marketdata.Source,
	network exchange.LatencyModel, logger log.Logger, meter *metrics.Metrics) *Driver {
	return &Driver{
		exchange: ex,
		strategy: strat,
		source:   source,
		network:  network,
		logger:   logger,
		meter:    meter,
	}
}

// Prepare drains the market data source into the event queue. It must
// run before ExecuteUntil or FullyExecute.
func (d *Driver) Prepare() error {
	if err := d.source.Prepare(); err != nil {
		return fmt.Errorf("preparing market data: %w", err)
	}
	n := 0
	for {
		rec, err := d.source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading market data: %w", err)
		}
		d.queue.push(&Event{Timestamp: rec.Time(), Kind: EventMarketData, Record: rec})
		n++
	}
	d.prepared = true
	d.logger.Info("market data loaded", "records", n)
	return nil
}

// Now returns the timestamp of the last processed event.
func (d *Driver) Now() int64 { return d.now }

// Reports returns every execution report delivered to the strategy so
// far, in delivery order.
func (d *Driver) Reports() []schema.ExecutionReport { return d.reports }

// Pending returns the number of undelivered events.
func (d *Driver) Pending() int { return d.queue.Len() }

// FullyExecute runs the loop until the event queue is empty.
func (d *Driver) FullyExecute() error {
	return d.execute(nil)
}

// ExecuteUntil runs the loop while the next event's timestamp is at or
// before the ceiling. Later events stay queued, so execution can
// resume from the same point.
func (d *Driver) ExecuteUntil(ceiling int64) error {
	return d.execute(&ceiling)
}

func (d *Driver) execute(ceiling *int64) error {
	if !d.prepared {
		return ErrNotPrepared
	}
	for {
		ev, ok := d.queue.peek()
		if !ok {
			return nil
		}
		if ceiling != nil && ev.Timestamp > *ceiling {
			return nil
		}
		d.queue.pop()
		d.now = ev.Timestamp
		if err := d.process(ev); err != nil {
			return err
		}
	}
}

func (d *Driver) process(ev *Event) error {
	if d.meter != nil {
		d.meter.RecordEvent()
	}
	switch ev.Kind {
	case EventMarketData:
		return d.processMarketData(ev)
	case EventLocalMessage:
		return d.processLocalMessage(ev)
	case EventExecutionReport:
		d.strategy.OnExecutionReport(ev.Report)
		d.reports = append(d.reports, ev.Report)
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// processMarketData updates the venue first, then lets the strategy
// react. Maker fills triggered by a trade print travel back to the
// strategy over the network hop only; order flow the strategy emits
// pays its own processing time plus the hop to the venue.
func (d *Driver) processMarketData(ev *Event) error {
	reports, err := d.exchange.OnMarketData(ev.Record)
	if err != nil {
		return fmt.Errorf("market data at %d: %w", ev.Timestamp, err)
	}
	for _, rep := range reports {
		delay := d.network.Simulate()
		if d.meter != nil {
			d.meter.RecordFill(rep.FilledQty)
			d.meter.ObserveDelay(delay)
		}
		d.queue.push(&Event{
			Timestamp: ev.Timestamp + delay,
			Kind:      EventExecutionReport,
			Report:    rep,
		})
	}

	for _, msg := range d.strategy.OnMarketData(ev.Record) {
		d.queue.push(&Event{
			Timestamp: ev.Timestamp + d.strategy.ProcessingTime() + d.network.Simulate(),
			Kind:      EventLocalMessage,
			Message:   msg,
		})
	}
	return nil
}

func (d *Driver) processLocalMessage(ev *Event) error {
	var reports []schema.ExecutionReport
	switch {
	case ev.Message.Order != nil:
		var err error
		reports, err = d.exchange.SubmitOrder(*ev.Message.Order)
		if err != nil {
			return fmt.Errorf("submit at %d: %w", ev.Timestamp, err)
		}
		if d.meter != nil {
			d.meter.RecordOrder()
		}
	case ev.Message.Cancel != nil:
		reports = d.exchange.CancelOrder(ev.Message.Cancel.ClientOID)
	default:
		return fmt.Errorf("empty local message at %d", ev.Timestamp)
	}

	for _, rep := range reports {
		delay := d.exchange.OrderProcessing().Simulate() + d.network.Simulate()
		if d.meter != nil {
			if rep.ExecType == schema.ExecTypeRejected {
				d.meter.RecordRejection()
			}
			d.meter.ObserveDelay(delay)
		}
		d.queue.push(&Event{
			Timestamp: ev.Timestamp + delay,
			Kind:      EventExecutionReport,
			Report:    rep,
		})
	}
	return nil
}
