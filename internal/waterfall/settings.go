package waterfall

import (
	"errors"
	"math"
	"time"
)

const (
	// MinCenterFreqMHz and MaxCenterFreqMHz bound the tunable range of an R820T RTL-SDR
	MinCenterFreqMHz = 24.0
	MaxCenterFreqMHz = 1766.0

	// MinUpdateInterval protects the provider from being polled in a busy loop
	MinUpdateInterval = 50 * time.Millisecond

	// MaxRowsLimit caps the history capacity
	MaxRowsLimit = 4096

	defaultUpdateInterval  = 500 * time.Millisecond
	defaultIntegrationTime = 200 * time.Millisecond
	defaultMaxRows         = 100
	defaultDBSmoothing     = 0.2
	defaultDBMargin        = 5.0
	defaultMinRangeDB      = 20.0
	defaultSpanMHz         = 2.4
	defaultCenterFreqMHz   = 99.5
)

// Settings holds the live-tunable knobs of the waterfall
type Settings struct {
	UpdateInterval  time.Duration // Time between two acquisition ticks
	IntegrationTime time.Duration // Duration the provider accumulates energy for one row
	MaxRows         int           // History capacity
	DBSmoothing     float64       // Range estimator smoothing factor [0-1]
	DBMargin        float64       // Margin added around the row extremes in dB
	MinRangeDB      float64       // Minimum width of the color range in dB
	SpanMHz         float64       // Frequency span requested from the provider
	CenterFreqMHz   float64       // Center frequency requested from the provider
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		UpdateInterval:  defaultUpdateInterval,
		IntegrationTime: defaultIntegrationTime,
		MaxRows:         defaultMaxRows,
		DBSmoothing:     defaultDBSmoothing,
		DBMargin:        defaultDBMargin,
		MinRangeDB:      defaultMinRangeDB,
		SpanMHz:         defaultSpanMHz,
		CenterFreqMHz:   defaultCenterFreqMHz,
	}
}

// Validate checks every field and returns all violations joined together
func (s Settings) Validate() error {
	return errors.Join(
		validateUpdateInterval(s.UpdateInterval),
		validateIntegrationTime(s.IntegrationTime),
		validateMaxRows(s.MaxRows),
		validateDBSmoothing(s.DBSmoothing),
		validateDBMargin(s.DBMargin),
		validateMinRangeDB(s.MinRangeDB),
		validateSpan(s.SpanMHz),
		validateCenterFrequency(s.CenterFreqMHz),
	)
}

func validateUpdateInterval(d time.Duration) error {
	if d < MinUpdateInterval {
		return newConfigError("updateInterval", d, "must be at least %s", MinUpdateInterval)
	}
	return nil
}

func validateIntegrationTime(d time.Duration) error {
	if d <= 0 {
		return newConfigError("integrationTime", d, "must be positive")
	}
	return nil
}

func validateMaxRows(n int) error {
	if n <= 0 || n > MaxRowsLimit {
		return newConfigError("maxRows", n, "must be between 1 and %d", MaxRowsLimit)
	}
	return nil
}

func validateDBSmoothing(v float64) error {
	if !isFinite(v) || v < 0 || v > 1 {
		return newConfigError("dbSmoothing", v, "must be between 0 and 1")
	}
	return nil
}

func validateDBMargin(v float64) error {
	if !isFinite(v) || v < 0 {
		return newConfigError("dbMargin", v, "must not be negative")
	}
	return nil
}

func validateMinRangeDB(v float64) error {
	if !isFinite(v) || v <= 0 {
		return newConfigError("minRangeDb", v, "must be positive")
	}
	return nil
}

func validateSpan(v float64) error {
	if !isFinite(v) || v <= 0 {
		return newConfigError("spanMHz", v, "must be positive")
	}
	return nil
}

func validateCenterFrequency(v float64) error {
	if !isFinite(v) || v < MinCenterFreqMHz || v > MaxCenterFreqMHz {
		return newConfigError("centerFreqMHz", v, "must be between %.0f and %.0f MHz", MinCenterFreqMHz, MaxCenterFreqMHz)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
