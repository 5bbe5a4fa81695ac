package waterfall

import (
	"fmt"
	"sync"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// Status is the observable acquisition state
type Status string

const (
	StatusWaiting Status = "WAITING" // No row applied on the last tick
	StatusLive    Status = "LIVE"    // The last tick applied a row
)

// Update is published to subscribers after every applied row
type Update struct {
	Status Status        `json:"status"`
	Range  Range         `json:"range"`
	Row    *spectrum.Row `json:"row"`
}

// Session owns the waterfall state: settings, range estimator, history and
// status. A single lock guards all of it, so a row is applied to the
// estimator and the history as one step and a reader never sees half of it.
type Session struct {
	mu         sync.RWMutex
	settings   Settings
	estimator  *RangeEstimator
	history    *History
	status     Status
	generation uint64

	subsMu      sync.Mutex
	subscribers map[chan Update]struct{}
}

// NewSession creates a session with validated settings and the default range
func NewSession(settings Settings) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	history, err := NewHistory(settings.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("creating history: %w", err)
	}

	return &Session{
		settings:    settings,
		estimator:   NewRangeEstimator(DefaultRange(), settings.MinRangeDB),
		history:     history,
		status:      StatusWaiting,
		subscribers: make(map[chan Update]struct{}),
	}, nil
}

// Settings returns a copy of the current settings
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Status returns LIVE if the last tick applied a row, WAITING otherwise
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Range returns the current color range
func (s *Session) Range() Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimator.Current()
}

// History returns the rows, oldest first
func (s *Session) History() []*spectrum.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Snapshot()
}

// HistoryLen returns the number of rows kept
func (s *Session) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Len()
}

// Frame captures everything the renderer needs in one consistent read
func (s *Session) Frame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Frame{
		Rows:          s.history.Snapshot(),
		Range:         s.estimator.Current(),
		MaxRows:       s.settings.MaxRows,
		CenterFreqMHz: s.settings.CenterFreqMHz,
		SpanMHz:       s.settings.SpanMHz,
		Status:        s.status,
	}
}

// begin opens a new acquisition generation and returns its token. Results
// carrying an older token are discarded.
func (s *Session) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	return s.generation
}

// end invalidates the current generation
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
}

// ApplyRow feeds a row into the estimator and the history. It returns false
// without touching any state when the generation is stale. A malformed row is
// rejected with an error and leaves the state unchanged except the status,
// which becomes WAITING.
func (s *Session) ApplyRow(generation uint64, row *spectrum.Row) (bool, error) {
	s.mu.Lock()

	if generation != s.generation {
		s.mu.Unlock()
		return false, nil
	}

	if err := row.Validate(); err != nil {
		s.status = StatusWaiting
		s.mu.Unlock()
		return false, err
	}

	s.estimator.Update(row.Values, EstimatorParams{
		Smoothing: s.settings.DBSmoothing,
		Margin:    s.settings.DBMargin,
		MinRange:  s.settings.MinRangeDB,
	})
	if err := s.history.Push(row); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.status = StatusLive

	update := Update{Status: s.status, Range: s.estimator.Current(), Row: row}
	s.mu.Unlock()

	s.publish(update)
	return true, nil
}

// Append applies a row in the current generation. Offline tools use it to
// build a waterfall without an acquisition loop.
func (s *Session) Append(row *spectrum.Row) error {
	s.mu.RLock()
	generation := s.generation
	s.mu.RUnlock()

	_, err := s.ApplyRow(generation, row)
	return err
}

// markWaiting flips the status to WAITING unless the generation is stale
func (s *Session) markWaiting(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation == s.generation {
		s.status = StatusWaiting
	}
}

// Reset clears the history. The color range is kept: only construction sets
// it back to its initial value. It is never called by the acquisition loop.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history.Reset()
}

// SetUpdateInterval sets the time between ticks. The running loop picks it up
// through Viewer.SetUpdateInterval.
func (s *Session) SetUpdateInterval(d time.Duration) error {
	if err := validateUpdateInterval(d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.UpdateInterval = d
	return nil
}

// SetIntegrationTime sets the integration time of the next request
func (s *Session) SetIntegrationTime(d time.Duration) error {
	if err := validateIntegrationTime(d); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.IntegrationTime = d
	return nil
}

// SetMaxRows changes the history capacity, dropping the oldest rows at once
// when it shrinks
func (s *Session) SetMaxRows(n int) error {
	if err := validateMaxRows(n); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.history.SetCapacity(n); err != nil {
		return err
	}
	s.settings.MaxRows = n
	return nil
}

// SetDBSmoothing sets the estimator smoothing factor
func (s *Session) SetDBSmoothing(v float64) error {
	if err := validateDBSmoothing(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DBSmoothing = v
	return nil
}

// SetDBMargin sets the margin added around the row extremes
func (s *Session) SetDBMargin(v float64) error {
	if err := validateDBMargin(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DBMargin = v
	return nil
}

// SetMinRangeDB sets the minimum range width and widens the current range at
// once if it is narrower
func (s *Session) SetMinRangeDB(v float64) error {
	if err := validateMinRangeDB(v); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.MinRangeDB = v
	s.estimator.EnforceFloor(v)
	return nil
}

// SetSpan sets the span of the next request. History is kept.
func (s *Session) SetSpan(mhz float64) error {
	if err := validateSpan(mhz); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.SpanMHz = mhz
	return nil
}

// SetCenterFrequency retunes the next request. History is kept.
func (s *Session) SetCenterFrequency(mhz float64) error {
	if err := validateCenterFrequency(mhz); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.CenterFreqMHz = mhz
	return nil
}

// Subscribe returns a channel receiving an Update per applied row. Slow
// subscribers miss updates rather than block the loop. The returned function
// unsubscribes and closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, max(buffer, 1))

	s.subsMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subscribers, ch)
			s.subsMu.Unlock()
			close(ch)
		})
	}
}

func (s *Session) publish(u Update) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}
