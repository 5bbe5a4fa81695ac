package sdr

import (
	"context"
	"math"
	"os/exec"
	"time"
)

// Sweep is one line of `rtl_power` or `hackrf_sweep` output: the readings of
// one contiguous chunk of the swept band
type Sweep struct {
	Timestamp      time.Time // Timestamp information
	StartFrequency float64   // StartFrequency specifies the starting frequency in Hz of the chunk
	EndFrequency   float64   // EndFrequency specifies the ending frequency in Hz of the chunk
	BinWidth       float64   // Hz step/bin width
	NumSamples     int       // Number of samples used for this measurement
	Readings       []float64 // Power per bin (dBm for rtl_sdr, dB for hackrf), NaN when unreadable
	Device         string    // Device type (e.g., "RTL-SDR", "HackRF")
	DeviceID       string    // Serial number or index (human-readable)
}

// CenterFrequency returns the center frequency of the first bin of the chunk
func (s *Sweep) CenterFrequency() float64 {
	return s.StartFrequency + (s.BinWidth / 2)
}

// Gain overrides the gain of the tool configuration. The zero value keeps
// the configured gain.
type Gain struct {
	Override bool
	Auto     bool    // the tuner picks the gain
	DB       float64 // manual gain, used when Auto is false
}

// Tuning describes the band a handler sweeps
type Tuning struct {
	FrequencyStart int64         // Hz
	FrequencyEnd   int64         // Hz
	BinWidth       int64         // Hz
	Integration    time.Duration // Time to integrate each chunk over
	Gain           Gain
}

// TuningFor converts the waterfall request parameters into a sweep band of
// the given number of bins
func TuningFor(centerMHz, spanMHz, integrationSec float64, bins int) Tuning {
	center := centerMHz * 1e6
	half := spanMHz * 1e6 / 2

	start := int64(math.Round(center - half))
	end := int64(math.Round(center + half))

	return Tuning{
		FrequencyStart: start,
		FrequencyEnd:   end,
		BinWidth:       max(1, (end-start)/int64(max(bins, 1))),
		Integration:    time.Duration(integrationSec * float64(time.Second)),
	}
}

// Handler interface defines the methods required for handling a device
type Handler interface {
	Cmd(ctx context.Context) *exec.Cmd
	Parse(line string, deviceID string) (*Sweep, error)
	Device() string
}

// HandlerFactory creates a handler sweeping the given band
type HandlerFactory func(t Tuning) (Handler, error)
