package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// ErrNoData indicates either that no spectrum data exists for the given parameters,
// or that all available data has been read from the reader.
var ErrNoData = errors.New("no data available")

var (
	minTime = time.Time{}
	maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// ReaderOption configures a SqliteRowReader with specific filtering criteria
type ReaderOption func(*SqliteRowReader)

// WithFreqRange limits the reader to bins centered between minFreq and
// maxFreq (Hz)
func WithFreqRange(minFreq, maxFreq float64) ReaderOption {
	return func(r *SqliteRowReader) {
		r.minFreq = minFreq
		r.maxFreq = maxFreq
	}
}

// WithTimeRange limits the reader to samples recorded between startTime and
// endTime
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteRowReader) {
		r.startTime = startTime
		r.endTime = endTime
	}
}

// SqliteRowReader iterates over the sweeps of a session. Samples are
// ordered by time and frequency; a drop in frequency starts a new row.
type SqliteRowReader struct {
	db        *sql.DB
	sessionID int64
	session   *spectrum.ScanSession

	startTime time.Time
	endTime   time.Time
	minFreq   float64
	maxFreq   float64

	rows    *sql.Rows
	current *spectrum.Row
	pending []point // readings of the row being assembled
	pendTS  time.Time
	err     error
}

func newSqliteRowReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteRowReader, error) {
	r := &SqliteRowReader{
		db:        db,
		sessionID: sessionID,
		startTime: minTime,
		endTime:   maxTime,
		minFreq:   0,
		maxFreq:   math.MaxFloat64,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *SqliteRowReader) init(ctx context.Context) error {
	if r.sessionID <= 0 {
		return errors.New("session ID required")
	}
	if r.startTime.After(r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}
	if r.minFreq > r.maxFreq {
		return fmt.Errorf("min frequency %f is greater than max frequency %f", r.minFreq, r.maxFreq)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: r.loadSession},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *SqliteRowReader) loadSession(ctx context.Context) (err error) {
	r.session, err = scanSession(r.db.QueryRowContext(ctx, selectSessionSQL, r.sessionID))
	return err
}

func (r *SqliteRowReader) initQuery(ctx context.Context) (err error) {
	r.rows, err = r.db.QueryContext(ctx, selectSamplesSQL,
		r.sessionID, r.startTime.UTC(), r.endTime.UTC(), r.minFreq, r.maxFreq)
	return err
}

// Session returns metadata about the recorded session
func (r *SqliteRowReader) Session() *spectrum.ScanSession {
	return r.session
}

// Next advances to the next row. It returns false at the end of the data or
// on error; Error tells the two apart.
func (r *SqliteRowReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	for {
		select {
		case <-ctx.Done():
			r.err = ctx.Err()
			return false
		default:
		}

		if !r.rows.Next() {
			// flush the last row
			if row := r.flush(); row != nil {
				r.current = row
				return true
			}
			r.err = ErrNoData
			return false
		}

		var ts time.Time
		var p point
		if err := r.rows.Scan(&ts, &p.frequency, &p.power, &p.binWidth); err != nil {
			r.err = fmt.Errorf("scanning sample: %w", err)
			return false
		}

		// Check for frequency rollover only
		if n := len(r.pending); n > 0 && p.frequency < r.pending[n-1].frequency {
			row := r.flush()
			r.pending = append(r.pending, p)
			r.pendTS = ts

			if row != nil {
				r.current = row
				return true
			}
			continue
		}

		if len(r.pending) == 0 {
			r.pendTS = ts
		}
		r.pending = append(r.pending, p)
	}
}

// flush turns the pending readings into a row and resets them. Returns nil
// when none of the readings carries a power value.
func (r *SqliteRowReader) flush() *spectrum.Row {
	pending := r.pending
	r.pending = nil

	if len(pending) == 0 {
		return nil
	}

	values := make([]float64, 0, len(pending))
	last := pending[0]
	for i, p := range pending {
		// Detect and fill the gap between two data points
		if i > 0 && freqLess(last.frequency+last.binWidth, p.frequency, last.binWidth) {
			gap := int(math.Round((p.frequency-last.frequency)/last.binWidth)) - 1
			for g := 0; g < gap; g++ {
				values = append(values, math.NaN())
			}
		}

		if p.power.Valid {
			values = append(values, p.power.Float64)
		} else {
			values = append(values, math.NaN())
		}
		last = p
	}

	if !spectrum.FillMissing(values) {
		return nil
	}

	first := pending[0]
	return spectrum.NewRow(
		r.pendTS,
		first.frequency-first.binWidth/2,
		last.frequency+last.binWidth/2,
		values,
	)
}

// Current returns the current row
func (r *SqliteRowReader) Current() *spectrum.Row {
	return r.current
}

// Error returns the error that stopped iteration. Reaching the end of the data
// is not an error.
func (r *SqliteRowReader) Error() error {
	if r.err != nil && !errors.Is(r.err, ErrNoData) {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

// Exhausted reports whether all data has been read
func (r *SqliteRowReader) Exhausted() bool {
	return errors.Is(r.err, ErrNoData)
}

// Close releases the database resources
func (r *SqliteRowReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.current = nil
		r.pending = nil
		r.rows = nil
		return err
	}
	return nil
}
