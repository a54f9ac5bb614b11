// Package rebalance implements the Rebalancer: detects hedge drift and
// proposes a symmetric adjustment under a token-bucket rate limit.
package rebalance

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/gateway"
)

// Config names the Rebalancer's rate limit and minimum adjustment size.
type Config struct {
	MaxRebalancesPerHour int
	MinRebalanceBase     float64
}

// Adjustment is the symmetric per-leg correction for the current drift:
// reduce the oversized leg by HalfDeltaBase, add HalfDeltaBase to the
// undersized leg.
type Adjustment struct {
	HalfDeltaBase domain.BaseQty
	OversizedLeg  domain.Leg
	UndersizedLeg domain.Leg
}

// Rebalancer holds the token bucket; one token is consumed per emitted
// Rebalance intent, replenished at max_rebalances_per_hour.
type Rebalancer struct {
	cfg     Config
	limiter *rate.Limiter
	clock   gateway.Clock
}

func New(cfg Config, clock gateway.Clock) *Rebalancer {
	var limiter *rate.Limiter
	if cfg.MaxRebalancesPerHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.MaxRebalancesPerHour)), cfg.MaxRebalancesPerHour)
	} else {
		limiter = rate.NewLimiter(0, 0)
	}
	return &Rebalancer{cfg: cfg, limiter: limiter, clock: clock}
}

func (r *Rebalancer) now() time.Time {
	return time.Unix(0, r.clock.NowNs())
}

// TokensAvailable reports whether a rebalance could be issued right now
// without consuming a token — used by the Signal Engine to decide whether to
// even evaluate the drift condition.
func (r *Rebalancer) TokensAvailable() bool {
	return r.limiter.TokensAt(r.now()) >= 1
}

// Propose computes the symmetric adjustment for the current position and
// consumes one rate-limit token. Returns ok=false if the position is already
// balanced within min_rebalance_base or no token is available.
func (r *Rebalancer) Propose(pos domain.Position) (Adjustment, bool) {
	spot := pos.Spot.SizeBase.Float()
	perp := pos.Perp.SizeBase.Float()
	delta := spot - perp
	if delta < 0 {
		delta = -delta
	}
	if delta < r.cfg.MinRebalanceBase {
		return Adjustment{}, false
	}
	if !r.limiter.AllowAt(r.now()) {
		return Adjustment{}, false
	}

	half := delta / 2
	oversized, undersized := domain.LegSpot, domain.LegPerp
	if perp > spot {
		oversized, undersized = domain.LegPerp, domain.LegSpot
	}

	return Adjustment{
		HalfDeltaBase: domain.NewBaseQty(half),
		OversizedLeg:  oversized,
		UndersizedLeg: undersized,
	}, true
}
