package exchange

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/backtest/pkg/book"
	"github.com/quantfold/backtest/pkg/queue"
	"github.com/quantfold/backtest/pkg/schema"
)

// newTestExchange uses 3% maker / 5% taker so fee effects show up in
// integer prices without fixed-point noise.
func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	level, _ := log.ToLevel("debug")
	logger := log.NewTestLogger(level)
	fees := NewRateFeeModel(decimal.NewFromFloat(0.03), decimal.NewFromFloat(0.05))
	return New(queue.NewFIFO(), fees, FixedLatency{}, FixedLatency{}, logger)
}

func seedBook(t *testing.T, ex *Exchange, pairs ...schema.BidAskPair) {
	t.Helper()
	_, err := ex.OnMarketData(schema.Record{Action: schema.ActionAdd, Levels: pairs})
	require.NoError(t, err)
}

func pair(bidPx, bidSz, askPx, askSz int64) schema.BidAskPair {
	return schema.BidAskPair{BidPx: bidPx, BidSz: bidSz, AskPx: askPx, AskSz: askSz, BidCt: 1, AskCt: 1}
}

func order(oid string, side schema.Side, typ schema.OrderType, tif schema.TimeInForce, price, size int64) schema.Order {
	return schema.Order{
		ExchangeID:  1,
		SecurityID:  1,
		ClientOID:   oid,
		Side:        side,
		Type:        typ,
		TimeInForce: tif,
		Price:       price,
		Size:        size,
	}
}

func TestMarketBuyFullFill(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("MKT_BUY", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 20))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, schema.ExecTypeTrade, rep.ExecType)
	assert.Equal(t, schema.OrderStatusFilled, rep.OrderStatus)
	assert.Equal(t, int64(20), rep.FilledQty)
	// 20*102 = 2040 notional, 5% taker fee folded in: 2142/20 = 107.
	assert.Equal(t, int64(107), rep.FilledPrice)
	assert.Equal(t, int64(20), rep.CumQty)
	assert.Equal(t, int64(0), rep.LeavesQty)

	lvl, ok := ex.Book().Level(schema.SideSell, 102)
	require.True(t, ok)
	assert.Equal(t, int64(20), lvl.Size)
}

func TestMarketSellFullFill(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("MKT_SELL", schema.SideSell, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 30))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, schema.OrderStatusFilled, rep.OrderStatus)
	// Sellers give the fee up: (3000 - 150) / 30 = 95.
	assert.Equal(t, int64(95), rep.FilledPrice)
}

func TestMarketBuyMultiLevel(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex,
		pair(100, 50, 102, 20),
		pair(100, 50, 103, 15),
		pair(100, 50, 104, 10),
	)

	reports, err := ex.SubmitOrder(order("MKT_MULTI", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 40))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	// 20*102 + 15*103 + 5*104 = 4105; with fee 4310/40 = 107.
	assert.Equal(t, int64(107), reports[0].FilledPrice)
	assert.Equal(t, int64(40), reports[0].FilledQty)
}

func TestMarketOrderInsufficientLiquidity(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	_, err := ex.SubmitOrder(order("MKT_BIG", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 50))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestMarketOrderIOCNoLiquidityRejected(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 0, 0))

	reports, err := ex.SubmitOrder(order("MKT_IOC", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceIOC, 0, 20))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeRejected, reports[0].ExecType)
	assert.Equal(t, schema.OrderStatusRejected, reports[0].OrderStatus)
	assert.Zero(t, reports[0].FilledQty)
	assert.Zero(t, reports[0].FilledPrice)
	assert.Zero(t, reports[0].CumQty)
	assert.Zero(t, reports[0].LeavesQty)
}

func TestMarketOrderGTCRepricesAsLimit(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	// Drain the displayed ask without retiring the level.
	_, err := ex.OnMarketData(schema.Record{Action: schema.ActionTrade, Side: schema.SideBuy, Price: 102, Size: 40})
	require.NoError(t, err)

	reports, err := ex.SubmitOrder(order("MKT_REST", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 10))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeNew, reports[0].ExecType)
	assert.Equal(t, int64(10), reports[0].LeavesQty)

	lo, ok := ex.Book().Order("MKT_REST")
	require.True(t, ok)
	assert.Equal(t, int64(102), lo.Order.Price)
	assert.Equal(t, schema.OrderTypeLimit, lo.Order.Type)
}

func TestMarketOrderGTCEmptyBook(t *testing.T) {
	ex := newTestExchange(t)

	_, err := ex.SubmitOrder(order("MKT_EMPTY", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 10))
	assert.ErrorIs(t, err, ErrEmptyBook)
}

func TestLimitOrderRests(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("LMT_REST", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 99, 10))
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, schema.ExecTypeNew, rep.ExecType)
	assert.Equal(t, schema.OrderStatusNew, rep.OrderStatus)
	assert.Equal(t, int64(10), rep.LeavesQty)
	assert.Zero(t, rep.FilledQty)

	lo, ok := ex.Book().Order("LMT_REST")
	require.True(t, ok)
	assert.Equal(t, int64(50), lo.PhantomVolume)
}

func TestLimitOrderFullFill(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex,
		pair(100, 20, 102, 50),
		pair(99, 15, 102, 50),
		pair(98, 10, 102, 50),
	)

	reports, err := ex.SubmitOrder(order("LMT_SELL", schema.SideSell, schema.OrderTypeLimit, schema.TimeInForceGTC, 98, 40))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	// 20*100 + 15*99 + 5*98 = 3975; less 5% fee: 3777/40 = 94.
	assert.Equal(t, int64(94), reports[0].FilledPrice)
	assert.Equal(t, schema.OrderStatusFilled, reports[0].OrderStatus)

	// Swept levels are gone; the touched one keeps its residual size.
	assert.Equal(t, []int64{98}, ex.Book().Prices(schema.SideBuy))
	lvl, _ := ex.Book().Level(schema.SideBuy, 98)
	assert.Equal(t, int64(5), lvl.Size)
}

func TestLimitOrderGTCPartialFillRests(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("LMT_PART", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 102, 60))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, schema.ExecTypeNew, reports[0].ExecType)
	assert.Equal(t, schema.OrderStatusNew, reports[0].OrderStatus)
	assert.Equal(t, int64(60), reports[0].LeavesQty)

	trade := reports[1]
	assert.Equal(t, schema.ExecTypeTrade, trade.ExecType)
	assert.Equal(t, schema.OrderStatusPartiallyFilled, trade.OrderStatus)
	assert.Equal(t, int64(40), trade.FilledQty)
	assert.Equal(t, int64(107), trade.FilledPrice)
	assert.Equal(t, int64(40), trade.CumQty)
	assert.Equal(t, int64(20), trade.LeavesQty)

	lo, ok := ex.Book().Order("LMT_PART")
	require.True(t, ok)
	assert.Equal(t, int64(20), lo.Remaining)
}

func TestLimitOrderIOCPartialFillCancelsRemainder(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("LMT_IOC", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceIOC, 102, 60))
	require.NoError(t, err)
	require.Len(t, reports, 2)

	trade := reports[0]
	assert.Equal(t, schema.ExecTypeTrade, trade.ExecType)
	assert.Equal(t, int64(40), trade.FilledQty)
	assert.Equal(t, int64(107), trade.FilledPrice)

	cancel := reports[1]
	assert.Equal(t, schema.ExecTypeCanceled, cancel.ExecType)
	assert.Equal(t, schema.OrderStatusPartiallyFilled, cancel.OrderStatus)
	assert.Zero(t, cancel.FilledQty)
	assert.Equal(t, int64(40), cancel.CumQty)
	assert.Zero(t, cancel.LeavesQty)

	_, ok := ex.Book().Order("LMT_IOC")
	assert.False(t, ok)
}

func TestLimitOrderFOKPartialFillRejected(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("LMT_FOK", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceFOK, 102, 60))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeRejected, reports[0].ExecType)

	// Nothing consumed on rejection.
	lvl, _ := ex.Book().Level(schema.SideSell, 102)
	assert.Equal(t, int64(40), lvl.Size)
}

func TestLimitOrderIOCNoMatchRejected(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("LMT_MISS", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceIOC, 99, 10))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeRejected, reports[0].ExecType)
	assert.Equal(t, schema.OrderStatusRejected, reports[0].OrderStatus)
}

func TestSubmitDuplicateOID(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	_, err := ex.SubmitOrder(order("DUP", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 99, 10))
	require.NoError(t, err)

	_, err = ex.SubmitOrder(order("DUP", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 98, 5))
	assert.ErrorIs(t, err, book.ErrDuplicateOID)
}

func TestSubmitInvalidOrderType(t *testing.T) {
	ex := newTestExchange(t)

	_, err := ex.SubmitOrder(order("BAD", schema.SideBuy, "STOP", schema.TimeInForceGTC, 100, 10))
	assert.ErrorIs(t, err, ErrInvalidOrderType)
}

func TestSubmitGeneratesClientOID(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 99, 10))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Regexp(t, `^client_\d+_0$`, reports[0].ClientOID)
}

func TestSubmitSelfFill(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))
	_, err := ex.SubmitOrder(order("RESTING", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 100, 10))
	require.NoError(t, err)

	_, err = ex.SubmitOrder(order("CROSSER", schema.SideSell, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 20))
	assert.ErrorIs(t, err, book.ErrSelfFill)
}

func TestCancelOrderRoundTrip(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))
	_, err := ex.SubmitOrder(order("CXL_ME", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 99, 10))
	require.NoError(t, err)

	reports := ex.CancelOrder("CXL_ME")
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeCanceled, reports[0].ExecType)
	assert.Equal(t, schema.OrderStatusCanceled, reports[0].OrderStatus)
	assert.Equal(t, "CXL_ME", reports[0].ClientOID)
	assert.Zero(t, reports[0].CumQty)
	assert.Zero(t, reports[0].LeavesQty)

	// A second cancel misses.
	reports = ex.CancelOrder("CXL_ME")
	require.Len(t, reports, 1)
	assert.Equal(t, schema.ExecTypeRejected, reports[0].ExecType)
}

func TestCancelUnknownOrder(t *testing.T) {
	ex := newTestExchange(t)

	for _, oid := range []string{"NEVER_SEEN", ""} {
		reports := ex.CancelOrder(oid)
		require.Len(t, reports, 1)
		assert.Equal(t, schema.ExecTypeRejected, reports[0].ExecType)
		assert.Equal(t, schema.OrderStatusRejected, reports[0].OrderStatus)
		assert.Equal(t, oid, reports[0].ClientOID)
	}
}

func TestTradePrintFillsRestingOrder(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))
	_, err := ex.SubmitOrder(order("MAKER", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 100, 10))
	require.NoError(t, err)

	// 55 lots print through the 50 phantom ahead of the order.
	reports, err := ex.OnMarketData(schema.Record{Action: schema.ActionTrade, Side: schema.SideSell, Price: 100, Size: 55})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	rep := reports[0]
	assert.Equal(t, "MAKER", rep.ClientOID)
	assert.Equal(t, schema.ExecTypeTrade, rep.ExecType)
	assert.Equal(t, schema.OrderStatusPartiallyFilled, rep.OrderStatus)
	assert.Equal(t, int64(5), rep.FilledQty)
	// Maker fee 3% on 500 notional: (500+15)/5 = 103.
	assert.Equal(t, int64(103), rep.FilledPrice)
	assert.Equal(t, int64(5), rep.CumQty)
	assert.Equal(t, int64(5), rep.LeavesQty)
}

func TestTradePrintCompletesRestingOrder(t *testing.T) {
	ex := newTestExchange(t)
	seedBook(t, ex, pair(100, 50, 102, 40))
	_, err := ex.SubmitOrder(order("MAKER", schema.SideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, 100, 10))
	require.NoError(t, err)

	reports, err := ex.OnMarketData(schema.Record{Action: schema.ActionTrade, Side: schema.SideSell, Price: 100, Size: 60})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, schema.OrderStatusFilled, reports[0].OrderStatus)
	assert.Equal(t, int64(10), reports[0].FilledQty)
	assert.Zero(t, reports[0].LeavesQty)

	_, ok := ex.Book().Order("MAKER")
	assert.False(t, ok)
}

func TestDepthActionsProduceNoReports(t *testing.T) {
	ex := newTestExchange(t)

	for _, action := range []schema.Action{schema.ActionAdd, schema.ActionModify, schema.ActionCancel} {
		reports, err := ex.OnMarketData(schema.Record{Action: action, Levels: []schema.BidAskPair{pair(100, 50, 102, 40)}})
		require.NoError(t, err)
		assert.Empty(t, reports)
	}

	reports, err := ex.OnMarketData(schema.Record{Action: schema.ActionClear})
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, ex.Book().Prices(schema.SideBuy))
}

func TestFreeFeeModelPricesAtDisplayed(t *testing.T) {
	level, _ := log.ToLevel("debug")
	ex := New(queue.NewFIFO(), FreeFeeModel{}, FixedLatency{}, FixedLatency{}, log.NewTestLogger(level))
	seedBook(t, ex, pair(100, 50, 102, 40))

	reports, err := ex.SubmitOrder(order("FREE", schema.SideBuy, schema.OrderTypeMarket, schema.TimeInForceGTC, 0, 20))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, int64(102), reports[0].FilledPrice)
}
