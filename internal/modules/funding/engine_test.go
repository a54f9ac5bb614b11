package funding

import (
	"testing"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Compute_InsufficientSamples(t *testing.T) {
	e := New()
	for i := 0; i < DefaultMinSamples-1; i++ {
		e.Insert(domain.FundingSample{Timestamp: int64(i), Rate: 0.0001})
	}

	_, err := e.Compute()
	assert.Error(t, err)
}

func TestEngine_Compute_ConstantRate_APRMatchesFormula(t *testing.T) {
	e := New()
	rate := 0.0001
	for i := 0; i < 10; i++ {
		e.Insert(domain.FundingSample{Timestamp: int64(i) * int64(3600e9), Rate: rate})
	}

	stats, err := e.Compute()
	require.NoError(t, err)
	expected := rate * 24 * 365 * 100
	assert.InDelta(t, expected, stats.APRPct, 0.0001)
}

func TestEngine_Insert_DuplicateTimestampOverwrites(t *testing.T) {
	e := New()
	for i := 0; i < DefaultMinSamples; i++ {
		e.Insert(domain.FundingSample{Timestamp: int64(i), Rate: 0.0001})
	}
	e.Insert(domain.FundingSample{Timestamp: int64(DefaultMinSamples - 1), Rate: 0.0005})

	assert.Len(t, e.samples, DefaultMinSamples)
	assert.Equal(t, 0.0005, e.samples[len(e.samples)-1].Rate)
}

func TestEngine_Insert_DiscardsOlderThan8Hours(t *testing.T) {
	e := New()
	e.Insert(domain.FundingSample{Timestamp: 0, Rate: 0.0001})
	e.Insert(domain.FundingSample{Timestamp: int64(WindowDuration) + 1, Rate: 0.0002})

	require.Len(t, e.samples, 1)
	assert.Equal(t, int64(WindowDuration)+1, e.samples[0].Timestamp)
}

func TestEngine_Compute_RisingRate_PositiveVelocity(t *testing.T) {
	e := New()
	rate := 0.0001
	for i := 0; i < 12; i++ {
		e.Insert(domain.FundingSample{Timestamp: int64(i) * int64(3600e9), Rate: rate})
		rate += 0.00001
	}

	stats, err := e.Compute()
	require.NoError(t, err)
	assert.Greater(t, stats.VelocityPerHour, 0.0)
}
