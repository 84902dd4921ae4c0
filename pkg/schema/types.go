// Package schema defines the wire-independent data model shared by the
// order book, the simulated exchange and the backtest driver: orders,
// execution reports and decoded market-by-price records.
package schema

// Fixed-point scales used by upstream feed decoders. Prices and sizes
// inside this module are plain integers already scaled by these factors.
const (
	PriceScale = 1_000_000_000
	SizeScale  = 1_000_000
)

// Side identifies the book side an order or quote belongs to. Trade
// prints carry the side of the resting liquidity they consumed, so a
// print with SideSell (ask) sweeps resting bids and vice versa.
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "A"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce governs what happens to unmatched quantity at submission.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// ExecType is the kind of event an execution report describes.
type ExecType string

const (
	ExecTypeNew      ExecType = "NEW"
	ExecTypeTrade    ExecType = "TRADE"
	ExecTypeCanceled ExecType = "CANCELED"
	ExecTypeRejected ExecType = "REJECTED"
)

// OrderStatus is the order state after the reported event.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Order is a participant order submitted to the simulated exchange.
// Price and Size are fixed-point integers (see PriceScale, SizeScale).
type Order struct {
	ExchangeID  int64       `json:"exchangeId"`
	SecurityID  int64       `json:"securityId"`
	ClientOID   string      `json:"clientOid"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"timeInForce"`
	Price       int64       `json:"price"`
	Size        int64       `json:"size"`
}

// CancelOrder asks the exchange to remove a resting order.
type CancelOrder struct {
	ExchangeID int64  `json:"exchangeId"`
	SecurityID int64  `json:"securityId"`
	ClientOID  string `json:"clientOid"`
}

// ExecutionReport is the exchange's answer to order flow and to market
// trades that fill resting local orders. FilledPrice is the
// size-weighted, fee-inclusive price of the quantity in FilledQty.
type ExecutionReport struct {
	ExchangeID  int64       `json:"exchangeId"`
	SecurityID  int64       `json:"securityId"`
	ClientOID   string      `json:"clientOid"`
	ExecType    ExecType    `json:"execType"`
	OrderStatus OrderStatus `json:"orderStatus"`
	FilledQty   int64       `json:"filledQty"`
	FilledPrice int64       `json:"filledPrice"`
	CumQty      int64       `json:"cumQty"`
	LeavesQty   int64       `json:"leavesQty"`
}
