package backtest

import (
	"container/heap"

	"github.com/quantfold/backtest/pkg/schema"
)

// EventKind discriminates the three event payloads the driver moves
// through simulated time.
type EventKind int

const (
	// EventMarketData is a decoded market record reaching the venue.
	EventMarketData EventKind = iota
	// EventLocalMessage is participant order flow reaching the venue.
	EventLocalMessage
	// EventExecutionReport is a venue report reaching the strategy.
	EventExecutionReport
)

// LocalMessage is one unit of participant order flow: exactly one of
// Order or Cancel is set.
type LocalMessage struct {
	Order  *schema.Order
	Cancel *schema.CancelOrder
}

// Event is one scheduled occurrence in the simulation.
type Event struct {
	Timestamp int64
	Kind      EventKind
	Record    schema.Record
	Message   LocalMessage
	Report    schema.ExecutionReport

	seq int64
}

// eventQueue is a min-heap on (timestamp, insertion sequence). The
// sequence makes ordering of simultaneous events deterministic:
// first pushed, first processed.
type eventQueue struct {
	events []*Event
	seq    int64
}

func (q *eventQueue) Len() int { return len(q.events) }

func (q *eventQueue) Less(i, j int) bool {
	if q.events[i].Timestamp != q.events[j].Timestamp {
		return q.events[i].Timestamp < q.events[j].Timestamp
	}
	return q.events[i].seq < q.events[j].seq
}

func (q *eventQueue) Swap(i, j int) { q.events[i], q.events[j] = q.events[j], q.events[i] }

func (q *eventQueue) Push(x any) { q.events = append(q.events, x.(*Event)) }

func (q *eventQueue) Pop() any {
	old := q.events
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	q.events = old[:n-1]
	return ev
}

func (q *eventQueue) push(ev *Event) {
	ev.seq = q.seq
	q.seq++
	heap.Push(q, ev)
}

func (q *eventQueue) pop() *Event {
	return heap.Pop(q).(*Event)
}

func (q *eventQueue) peek() (*Event, bool) {
	if len(q.events) == 0 {
		return nil, false
	}
	return q.events[0], true
}
