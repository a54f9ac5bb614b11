package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/rs/zerolog"
)

// PaperConfig configures the paper-trading simulator's cost model.
type PaperConfig struct {
	SlippageBps float64
	FeeBps      float64
}

// Paper is the Agent's gateway in paper mode: it fills at the last published
// marks minus configured slippage and fees. All other semantics (timing, state
// transitions, outcomes, persistence) are identical to the live path.
type Paper struct {
	mu   sync.RWMutex
	cfg  PaperConfig
	log  zerolog.Logger
	spot float64
	perp float64

	base  float64
	quote float64
	healthy bool

	posSize float64 // open position size, tracked so SubmitClose can price its own fees
}

// NewPaper builds a paper gateway seeded with starting balances.
func NewPaper(cfg PaperConfig, startBase, startQuote float64, log zerolog.Logger) *Paper {
	return &Paper{
		cfg:     cfg,
		log:     log.With().Str("component", "paper_gateway").Logger(),
		base:    startBase,
		quote:   startQuote,
		healthy: true,
	}
}

// SetMarks updates the marks the simulator fills against; called by whatever
// feeds the Snapshot Store in paper mode.
func (p *Paper) SetMarks(spot, perp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spot = spot
	p.perp = perp
}

func (p *Paper) marks() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spot, p.perp
}

func (p *Paper) SubscribeSpot(ctx context.Context) (<-chan SpotTick, error) {
	ch := make(chan SpotTick)
	close(ch)
	return ch, nil
}

func (p *Paper) SubscribePerp(ctx context.Context) (<-chan PerpTick, error) {
	ch := make(chan PerpTick)
	close(ch)
	return ch, nil
}

func (p *Paper) QuoteSwap(ctx context.Context, baseIn float64, side domain.Side) (SwapQuote, error) {
	spot, _ := p.marks()
	slip := spot * p.cfg.SlippageBps / 10000
	price := spot
	if side == domain.SideLong {
		price += slip
	} else {
		price -= slip
	}
	return SwapQuote{
		OutQuote:       baseIn * price,
		PriceImpactBps: p.cfg.SlippageBps,
		RouteHash:      "paper",
	}, nil
}

func (p *Paper) fillPrice(mark float64, buy bool) float64 {
	slip := mark * p.cfg.SlippageBps / 10000
	if buy {
		return mark + slip
	}
	return mark - slip
}

func (p *Paper) fee(notional float64) float64 {
	return notional * p.cfg.FeeBps / 10000
}

func (p *Paper) SubmitPairedOpen(ctx context.Context, sizeBase float64, bounds Bounds) (PairedFill, error) {
	spot, perp := p.marks()
	if spot <= 0 || perp <= 0 {
		return PairedFill{}, &domain.GatewayFatalError{Op: "submit_paired_open", Err: fmt.Errorf("no marks available")}
	}

	spotPrice := p.fillPrice(spot, true)
	perpPrice := p.fillPrice(perp, false)

	spotFill := Fill{Leg: domain.LegSpot, Side: domain.SideLong, SizeBase: sizeBase, Price: spotPrice, FeesQuote: p.fee(sizeBase * spotPrice)}
	perpFill := Fill{Leg: domain.LegPerp, Side: domain.SideShort, SizeBase: sizeBase, Price: perpPrice, FeesQuote: p.fee(sizeBase * perpPrice)}

	p.mu.Lock()
	p.base += sizeBase
	p.quote -= sizeBase*spotPrice + spotFill.FeesQuote
	p.posSize = sizeBase
	p.mu.Unlock()

	return PairedFill{Spot: spotFill, Perp: perpFill}, nil
}

func (p *Paper) SubmitClose(ctx context.Context, bounds Bounds) (PairedFill, error) {
	spot, perp := p.marks()

	p.mu.Lock()
	sizeBase := p.posSize
	p.posSize = 0
	p.mu.Unlock()

	spotPrice := p.fillPrice(spot, false)
	perpPrice := p.fillPrice(perp, true)

	spotFill := Fill{Leg: domain.LegSpot, Side: domain.SideLong, SizeBase: sizeBase, Price: spotPrice, FeesQuote: p.fee(sizeBase * spotPrice)}
	perpFill := Fill{Leg: domain.LegPerp, Side: domain.SideShort, SizeBase: sizeBase, Price: perpPrice, FeesQuote: p.fee(sizeBase * perpPrice)}

	return PairedFill{Spot: spotFill, Perp: perpFill}, nil
}

func (p *Paper) SubmitAdjust(ctx context.Context, leg domain.Leg, deltaBase float64, bounds Bounds) (Fill, error) {
	spot, perp := p.marks()
	mark := spot
	if leg == domain.LegPerp {
		mark = perp
	}
	price := p.fillPrice(mark, deltaBase > 0)

	p.mu.Lock()
	p.posSize += deltaBase
	p.mu.Unlock()

	return Fill{Leg: leg, SizeBase: deltaBase, Price: price, FeesQuote: p.fee(abs(deltaBase) * price)}, nil
}

func (p *Paper) Balances(ctx context.Context) (Balances, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Balances{Base: p.base, Quote: p.quote}, nil
}

func (p *Paper) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

// SetHealthy lets tests simulate a degraded connection.
func (p *Paper) SetHealthy(h bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = h
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
