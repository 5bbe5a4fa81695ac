package waterfall

import (
	"math"
)

const (
	defaultMinPower = -120.0 // dB
	defaultMaxPower = -20.0  // dB
)

// Range is the dB window the color mapper spreads the palette over
type Range struct {
	Min float64 `json:"minDb"`
	Max float64 `json:"maxDb"`
}

// Width returns Max - Min
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// Mid returns the center of the range
func (r Range) Mid() float64 {
	return (r.Max + r.Min) / 2
}

// DefaultRange is the window used before any row has been seen
func DefaultRange() Range {
	return Range{Min: defaultMinPower, Max: defaultMaxPower}
}

// EstimatorParams are the tuning knobs of a single estimator update
type EstimatorParams struct {
	Smoothing float64 // Exponential smoothing factor [0-1]
	Margin    float64 // dB added below the row minimum and above the row maximum
	MinRange  float64 // Minimum width of the range in dB
}

// RangeEstimator keeps a smoothed (min, max) dB window that follows the
// extremes of incoming rows. The state persists across updates and is only
// ever initialized on construction.
type RangeEstimator struct {
	current Range
}

// NewRangeEstimator creates an estimator starting at the initial range,
// widened to minRange if needed
func NewRangeEstimator(initial Range, minRange float64) *RangeEstimator {
	e := &RangeEstimator{current: initial}
	e.EnforceFloor(minRange)
	return e
}

// Update folds the readings of one row into the range. Empty rows and rows
// with non-finite extremes leave the state unchanged; false is returned in
// that case.
func (e *RangeEstimator) Update(values []float64, p EstimatorParams) bool {
	if len(values) == 0 {
		return false
	}

	rowMin, rowMax := values[0], values[0]
	for _, v := range values[1:] {
		rowMin = math.Min(rowMin, v)
		rowMax = math.Max(rowMax, v)
	}
	if !isFinite(rowMin) || !isFinite(rowMax) {
		return false
	}

	targetMin := rowMin - p.Margin
	targetMax := rowMax + p.Margin

	e.current.Min += (targetMin - e.current.Min) * p.Smoothing
	e.current.Max += (targetMax - e.current.Max) * p.Smoothing

	e.EnforceFloor(p.MinRange)
	return true
}

// EnforceFloor recenters the range around its midpoint when it is narrower
// than minRange
func (e *RangeEstimator) EnforceFloor(minRange float64) {
	if !isFinite(minRange) || e.current.Width() >= minRange {
		return
	}

	mid := e.current.Mid()
	e.current.Min = mid - minRange/2
	e.current.Max = mid + minRange/2

	// absorb rounding so the width is never below the floor
	for e.current.Width() < minRange {
		e.current.Max = math.Nextafter(e.current.Max, math.Inf(1))
	}
}

// Current returns the current range
func (e *RangeEstimator) Current() Range {
	return e.current
}
