// Package formulas collects small numeric helpers shared across the trading
// core: the statistics here back the Performance DB's summary view.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility scales the standard deviation of a daily PnL series by
// sqrt(252), the conventional trading-day count used to annualize a Sharpe
// ratio computed on daily observations.
func AnnualizedVolatility(daily []float64) float64 {
	if len(daily) == 0 {
		return 0
	}
	return StdDev(daily) * math.Sqrt(252)
}
