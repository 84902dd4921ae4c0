package schema

// Action is the closed set of market-by-price record kinds. Depth
// actions (Add, Modify, Cancel, Clear) describe the anonymous book;
// ActionTrade is an observed trade print.
type Action string

const (
	ActionAdd    Action = "Add"
	ActionModify Action = "Modify"
	ActionCancel Action = "Cancel"
	ActionClear  Action = "Clear"
	ActionTrade  Action = "Trade"
)

// IsTrade reports whether the record is a trade print rather than a
// depth update.
func (a Action) IsTrade() bool { return a == ActionTrade }

// BidAskPair is one depth entry of an MBP snapshot: the bid and ask
// level at the same book depth.
type BidAskPair struct {
	BidPx int64 `json:"bidPx"`
	AskPx int64 `json:"askPx"`
	BidSz int64 `json:"bidSz"`
	AskSz int64 `json:"askSz"`
	BidCt int64 `json:"bidCt"`
	AskCt int64 `json:"askCt"`
}

// Record is a decoded market-by-price record. For depth actions the
// Levels slice carries the reported book; for trade prints Side, Price
// and Size describe the print and Levels is empty. Timestamps are
// nanoseconds since the epoch.
type Record struct {
	ExchangeID     int64        `json:"exchangeId"`
	SecurityID     int64        `json:"securityId"`
	Action         Action       `json:"action"`
	Side           Side         `json:"side"`
	Price          int64        `json:"price"`
	Size           int64        `json:"size"`
	TimestampEvent int64        `json:"timestampEvent"`
	TimestampRecv  int64        `json:"timestampRecv"`
	TimestampSent  int64        `json:"timestampSent"`
	Sequence       int64        `json:"sequence"`
	Depth          int64        `json:"depth"`
	Flags          []string     `json:"flags,omitempty"`
	Levels         []BidAskPair `json:"levels,omitempty"`
}

// Time returns the timestamp the backtest driver orders this record by:
// the receive time when present, otherwise the event time.
func (r Record) Time() int64 {
	if r.TimestampRecv != 0 {
		return r.TimestampRecv
	}
	return r.TimestampEvent
}
