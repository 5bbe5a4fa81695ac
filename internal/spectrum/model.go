package spectrum

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedRow is returned when a row carries no bins or non-finite readings.
var ErrMalformedRow = errors.New("malformed spectrum row")

// ScanSession represents a single recorded spectrum scanning session with a specific device.
type ScanSession struct {
	ID         int64     `json:"ID"`                      // Unique identifier for the session
	StartTime  time.Time `json:"startTime"`               // When the scanning session began
	DeviceType string    `json:"deviceType"`              // Type of SDR device used (e.g., "rtl-sdr", "hackrf")
	DeviceID   string    `json:"deviceID"`                // Unique identifier of the specific device (e.g., serial number)
	Config     *string   `json:"config,string,omitempty"` // Optional device configuration in JSON format
}

// Row is one power spectrum snapshot: an ordered sequence of per-bin dB
// readings, left to right in frequency. A Row is never modified after it has
// been produced, consumers share the same pointer.
type Row struct {
	Timestamp       time.Time `json:"timestamp"`       // Acquisition time
	CenterFrequency float64   `json:"centerFrequency"` // Center frequency in Hz
	Span            float64   `json:"span"`            // Total width covered by the row in Hz
	FrequencyStart  float64   `json:"frequencyStart"`  // Start frequency of the first bin in Hz
	FrequencyEnd    float64   `json:"frequencyEnd"`    // End frequency of the last bin in Hz
	Values          []float64 `json:"values"`          // Power readings in dB
}

// NewRow builds a Row from its frequency edges and readings. Center and span
// are derived from the edges.
func NewRow(ts time.Time, startHz, endHz float64, values []float64) *Row {
	return &Row{
		Timestamp:       ts,
		CenterFrequency: (startHz + endHz) / 2,
		Span:            endHz - startHz,
		FrequencyStart:  startHz,
		FrequencyEnd:    endHz,
		Values:          values,
	}
}

// Bins returns the number of frequency bins in the row.
func (r *Row) Bins() int {
	return len(r.Values)
}

// BinWidth returns the frequency width of a single bin in Hz.
func (r *Row) BinWidth() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Span / float64(len(r.Values))
}

// Extremes returns the smallest and largest reading of the row.
// ok is false for an empty row.
func (r *Row) Extremes() (lo, hi float64, ok bool) {
	if len(r.Values) == 0 {
		return 0, 0, false
	}

	lo, hi = r.Values[0], r.Values[0]
	for _, v := range r.Values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, true
}

// Validate reports whether the row can be displayed: it must carry at least
// one bin and every reading must be finite.
func (r *Row) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil row", ErrMalformedRow)
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("%w: no bins", ErrMalformedRow)
	}
	for i, v := range r.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bin %d is not finite", ErrMalformedRow, i)
		}
	}
	if math.IsNaN(r.FrequencyStart) || math.IsNaN(r.FrequencyEnd) {
		return fmt.Errorf("%w: frequency edges are not numbers", ErrMalformedRow)
	}
	return nil
}

// FillMissing replaces NaN readings in place with the nearest preceding
// reading, or with the first valid one for a leading run. It reports false if
// no reading is valid.
func FillMissing(values []float64) bool {
	firstValid := -1
	for i, v := range values {
		if !math.IsNaN(v) {
			firstValid = i
			break
		}
	}
	if firstValid < 0 {
		return false
	}

	fill := values[firstValid]
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = fill
			continue
		}
		fill = v
	}
	return true
}

// Crop returns a row holding only the bins centered within [startHz, endHz].
// The row itself is returned when every bin qualifies or none does.
func (r *Row) Crop(startHz, endHz float64) *Row {
	width := r.BinWidth()
	if width <= 0 {
		return r
	}

	first, last := -1, -1
	for i := range r.Values {
		center := r.FrequencyStart + (float64(i)+0.5)*width
		if center < startHz || center > endHz {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	if first < 0 || (first == 0 && last == len(r.Values)-1) {
		return r
	}

	return NewRow(
		r.Timestamp,
		r.FrequencyStart+float64(first)*width,
		r.FrequencyStart+float64(last+1)*width,
		r.Values[first:last+1],
	)
}
