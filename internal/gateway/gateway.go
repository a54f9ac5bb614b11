package gateway

import (
	"context"

	"github.com/aristath/basisagent/internal/domain"
)

// SpotTick is one observation from the spot price feed.
type SpotTick struct {
	Price         float64
	ConfidenceBps float64
	Ts            int64
}

// PerpTick is one observation from the perpetual futures feed.
type PerpTick struct {
	Mark            float64
	Index           float64
	FundingRateHourly float64
	NextFundingTs   int64
	Ts              int64
}

// SwapQuote is the result of a quote_swap call: the out-amount and impact of a
// hypothetical swap, used by the Agent to bound slippage before submitting orders.
type SwapQuote struct {
	OutQuote      float64
	PriceImpactBps float64
	RouteHash     string
}

// Bounds constrains an order's acceptable slippage.
type Bounds struct {
	MaxSlippageBps float64
}

// Fill is a single-leg execution result.
type Fill struct {
	Leg        domain.Leg
	Side       domain.Side
	SizeBase   float64
	Price      float64
	FeesQuote  float64
}

// PairedFill is the result of a successful paired open or close.
type PairedFill struct {
	Spot Fill
	Perp Fill
}

// Balances reports account state across both legs.
type Balances struct {
	Base           float64
	Quote          float64
	PerpCollateral float64
	PerpSize       float64
}

// PriceSource is the capability interface for market-data subscription, per the
// dynamic-dispatch design note: live and paper implementations are interchangeable.
type PriceSource interface {
	SubscribeSpot(ctx context.Context) (<-chan SpotTick, error)
	SubscribePerp(ctx context.Context) (<-chan PerpTick, error)
}

// OrderGateway is the capability interface for order placement.
type OrderGateway interface {
	QuoteSwap(ctx context.Context, baseIn float64, side domain.Side) (SwapQuote, error)
	SubmitPairedOpen(ctx context.Context, sizeBase float64, bounds Bounds) (PairedFill, error)
	SubmitClose(ctx context.Context, bounds Bounds) (PairedFill, error)
	SubmitAdjust(ctx context.Context, leg domain.Leg, deltaBase float64, bounds Bounds) (Fill, error)
	Balances(ctx context.Context) (Balances, error)
	Healthy() bool
}

// MarketGateway is the full abstract boundary consumed by the trading core.
// Live and paper implementations both satisfy it; the core is polymorphic over them.
type MarketGateway interface {
	PriceSource
	OrderGateway
}
