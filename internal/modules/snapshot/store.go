// Package snapshot implements the Snapshot Store: lock-free publication of the
// latest spot price, perp mark, index, funding rate, and confidence.
package snapshot

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/gateway"
)

// Freshness budgets, per §4.1's defaults.
const (
	SpotFreshness    = 2 * time.Second
	PerpFreshness    = 2 * time.Second
	FundingFreshness = 60 * time.Second
)

// Store is a single-writer-per-field, many-reader publication point. Each scalar
// is published with atomic release-on-write / acquire-on-read semantics so readers
// never block and never observe a torn update.
type Store struct {
	clock gateway.Clock

	spotPrice      atomic.Uint64 // math.Float64bits
	spotObservedAt atomic.Int64
	spotConfBps    atomic.Uint64

	perpMark        atomic.Uint64
	perpIndex       atomic.Uint64
	fundingRate     atomic.Uint64
	nextFundingTime atomic.Int64
	perpObservedAt  atomic.Int64
}

// New builds an empty Store backed by clock for freshness checks.
func New(clock gateway.Clock) *Store {
	return &Store{clock: clock}
}

// PublishSpot records a spot-feed observation.
func (s *Store) PublishSpot(price, confidenceBps float64, observedAt int64) {
	s.spotPrice.Store(math.Float64bits(price))
	s.spotConfBps.Store(math.Float64bits(confidenceBps))
	s.spotObservedAt.Store(observedAt)
}

// PublishPerp records a perp-feed observation.
func (s *Store) PublishPerp(mark, index, fundingRateHourly float64, nextFundingTime, observedAt int64) {
	s.perpMark.Store(math.Float64bits(mark))
	s.perpIndex.Store(math.Float64bits(index))
	s.fundingRate.Store(math.Float64bits(fundingRateHourly))
	s.nextFundingTime.Store(nextFundingTime)
	s.perpObservedAt.Store(observedAt)
}

// Read takes a composite read of every field and rejects the whole snapshot if
// any field's age exceeds its freshness budget. A field exactly at the deadline
// is accepted; one nanosecond past it is rejected.
func (s *Store) Read() (domain.Snapshot, error) {
	now := s.clock.NowNs()

	spotAt := s.spotObservedAt.Load()
	if age := now - spotAt; age > int64(SpotFreshness) {
		return domain.Snapshot{}, &domain.StaleSnapshotError{Field: "spot_price", AgeNs: age}
	}

	perpAt := s.perpObservedAt.Load()
	if age := now - perpAt; age > int64(PerpFreshness) {
		return domain.Snapshot{}, &domain.StaleSnapshotError{Field: "perp_mark_price", AgeNs: age}
	}

	// Funding is carried on the same perp feed observation timestamp but gets the
	// wider 60s budget since payments are hourly, not sub-second.
	if age := now - perpAt; age > int64(FundingFreshness) {
		return domain.Snapshot{}, &domain.StaleSnapshotError{Field: "funding_rate_hourly", AgeNs: age}
	}

	return domain.Snapshot{
		SpotPrice:         math.Float64frombits(s.spotPrice.Load()),
		PerpMarkPrice:      math.Float64frombits(s.perpMark.Load()),
		PerpIndexPrice:     math.Float64frombits(s.perpIndex.Load()),
		FundingRateHourly:  math.Float64frombits(s.fundingRate.Load()),
		NextFundingTime:    s.nextFundingTime.Load(),
		SpotConfidenceBps:  math.Float64frombits(s.spotConfBps.Load()),
		ObservedAt:         now,
	}, nil
}
