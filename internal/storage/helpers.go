package storage

import (
	"database/sql"
	"math"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// toSampleData converts bin i of a row into a samples table record. The
// stored frequency is the bin center.
func toSampleData(sessionID int64, row *spectrum.Row, i, numSamples int) *sampleData {
	binWidth := row.BinWidth()

	var power sql.NullFloat64
	if v := row.Values[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
		power.Float64 = v
		power.Valid = true
	}

	return &sampleData{
		SessionID:  sessionID,
		Timestamp:  row.Timestamp.UTC(),
		Frequency:  row.FrequencyStart + float64(i)*binWidth + binWidth/2,
		BinWidth:   binWidth,
		Power:      power,
		NumSamples: numSamples,
	}
}

// freqLess reports whether a is below b by more than 1% of a bin
func freqLess(a, b, binWidth float64) bool {
	return b-a > binWidth*0.01
}

// scanSession reads a sessions row selected with its columns in table order
func scanSession(row interface{ Scan(dest ...any) error }) (*spectrum.ScanSession, error) {
	var sess spectrum.ScanSession
	var config sql.NullString
	if err := row.Scan(&sess.ID, &sess.StartTime, &sess.DeviceType, &sess.DeviceID, &config); err != nil {
		return nil, err
	}
	if config.Valid {
		sess.Config = &config.String
	}
	return &sess, nil
}
