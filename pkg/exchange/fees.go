package exchange

import "github.com/shopspring/decimal"

// FeeModel prices the fee on a fill's notional. Maker fills come from
// resting orders hit by market flow, taker fills from orders that
// cross on submission.
type FeeModel interface {
	Fee(notional int64, isMaker bool) int64
}

// RateFeeModel charges a flat rate on notional per liquidity side,
// truncated to an integer.
type RateFeeModel struct {
	maker decimal.Decimal
	taker decimal.Decimal
}

// NewRateFeeModel builds a fee model from maker and taker rates, e.g.
// 0.0002 for 2 bps.
func NewRateFeeModel(maker, taker decimal.Decimal) *RateFeeModel {
	return &RateFeeModel{maker: maker, taker: taker}
}

func (f *RateFeeModel) Fee(notional int64, isMaker bool) int64 {
	rate := f.taker
	if isMaker {
		rate = f.maker
	}
	return rate.Mul(decimal.NewFromInt(notional)).IntPart()
}

// FreeFeeModel charges nothing. Useful for tests and fee-less venues.
type FreeFeeModel struct{}

func (FreeFeeModel) Fee(int64, bool) int64 { return 0 }
