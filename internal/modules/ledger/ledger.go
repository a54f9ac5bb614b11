// Package ledger implements the Position Ledger: dual-leg position state,
// realized/unrealized P&L, funding accruals, and the trade log.
package ledger

import (
	"fmt"
	"sync"

	"github.com/aristath/basisagent/internal/domain"
)

// Ledger exclusively owns the current position and trade log. It is serialized
// behind a single exclusive writer; readers may take a consistent point-in-time
// copy via Current().
type Ledger struct {
	mu       sync.RWMutex
	position *domain.Position
	nextID   int64
	realized domain.QuoteQty
}

// New builds an empty Ledger. nextTradeID seeds the monotone trade_id sequence.
func New(nextTradeID int64) *Ledger {
	return &Ledger{nextID: nextTradeID}
}

// Open establishes the paired position. Fails if a position is already open,
// preserving invariant 1: at most one open paired position exists at any time.
func (l *Ledger) Open(spot, perp domain.PositionLeg) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position != nil {
		return fmt.Errorf("ledger: position already open")
	}
	l.position = &domain.Position{Spot: spot, Perp: perp, OpenedAt: spot.OpenedAt}
	return nil
}

// UpdateMarks returns the unrealized P&L of the open position at the given
// marks (zero when no position is open). The ledger stores no marks; PnL
// likewise takes the current marks as arguments.
func (l *Ledger) UpdateMarks(spotMark, perpMark float64) (unrealized domain.QuoteQty) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position == nil {
		return domain.ZeroQuote()
	}
	return l.unrealizedLocked(spotMark, perpMark)
}

func (l *Ledger) unrealizedLocked(spotMark, perpMark float64) domain.QuoteQty {
	p := l.position
	spotPnl := (spotMark - p.Spot.EntryPrice) * p.Spot.SizeBase.Float()
	perpPnl := (p.Perp.EntryPrice - perpMark) * p.Perp.SizeBase.Float() // short: profit when mark falls
	total := spotPnl + perpPnl
	return domain.NewQuoteQty(total).Add(p.CumFundingQuote)
}

// ApplyFunding accrues a funding payment/charge to the open position.
func (l *Ledger) ApplyFunding(amount domain.QuoteQty) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position == nil {
		return fmt.Errorf("ledger: no open position to apply funding to")
	}
	l.position.CumFundingQuote = l.position.CumFundingQuote.Add(amount)
	return nil
}

// Close settles the open position at the given fill prices, appends a
// TradeOutcome to the trade log with a strictly increasing trade_id, and clears
// the position so a new one may be opened.
func (l *Ledger) Close(spotFill, perpFill float64, feesQuote domain.QuoteQty, closedAt int64, reason domain.CloseReason, basisAtOpenBps, basisAtCloseBps, fundingAPRAtOpen float64) (domain.TradeOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return domain.TradeOutcome{}, fmt.Errorf("ledger: no open position to close")
	}

	p := l.position
	gross := l.unrealizedLocked(spotFill, perpFill).Sub(p.CumFundingQuote)
	net := gross.Sub(feesQuote).Add(p.CumFundingQuote)

	notional := p.Spot.SizeBase.Float() * p.Spot.EntryPrice
	roi := 0.0
	if notional != 0 {
		roi = net.Float() / notional * 100
	}

	outcome := domain.TradeOutcome{
		TradeID:              l.nextID,
		OpenedAt:             p.OpenedAt,
		ClosedAt:             closedAt,
		SizeBase:             p.Spot.SizeBase,
		GrossQuotePnL:        gross,
		FeesQuote:            feesQuote,
		FundingReceivedQuote: p.CumFundingQuote,
		NetQuotePnL:          net,
		ROIPct:               roi,
		BasisAtOpenBps:       basisAtOpenBps,
		BasisAtCloseBps:      basisAtCloseBps,
		FundingAPRAtOpenPct:  fundingAPRAtOpen,
		Win:                  net.Cmp(domain.ZeroQuote()) > 0,
		CloseReason:          reason,
	}

	l.nextID++
	l.realized = l.realized.Add(net)
	l.position = nil

	return outcome, nil
}

// Current returns a point-in-time copy of the open position, if any.
func (l *Ledger) Current() (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.position == nil {
		return domain.Position{}, false
	}
	return *l.position, true
}

// PnL returns (realized, unrealized) at the given marks.
func (l *Ledger) PnL(spotMark, perpMark float64) (realized, unrealized domain.QuoteQty) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	realized = l.realized
	if l.position != nil {
		unrealized = l.unrealizedLocked(spotMark, perpMark)
	}
	return realized, unrealized
}
