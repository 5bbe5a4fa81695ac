package storage

import (
	"database/sql"
	"time"
)

const (
	sampleColumns      = 6
	samplePlaceholders = "(?, ?, ?, ?, ?, ?)"
)

// sampleData is one row of the samples table
type sampleData struct {
	SessionID  int64
	Timestamp  time.Time
	Frequency  float64
	BinWidth   float64
	Power      sql.NullFloat64
	NumSamples int
}

// args returns the insert arguments in column order
func (d *sampleData) args() []any {
	return []any{d.SessionID, d.Timestamp, d.Frequency, d.BinWidth, d.Power, d.NumSamples}
}

// point is one scanned reading before it is folded into a row
type point struct {
	frequency float64
	binWidth  float64
	power     sql.NullFloat64
}
