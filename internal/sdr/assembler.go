package sdr

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

// ErrNilSweep is returned when a nil chunk is inserted
var ErrNilSweep = errors.New("cannot insert nil sweep")

// node is a linked list node of the assembler
type node struct {
	sweep *Sweep
	next  *node
}

// SweepAssembler collects the chunks of a sweep pass in frequency order and
// turns a completed pass into a single spectrum row. A pass is complete when
// a chunk for an already buffered frequency arrives: the tools restart from
// the band start once the whole band has been covered.
type SweepAssembler struct {
	mu   sync.Mutex
	head *node
	size int
}

// NewSweepAssembler creates an empty assembler
func NewSweepAssembler() *SweepAssembler {
	return &SweepAssembler{}
}

// Insert adds a chunk to the current pass. When the chunk starts a new pass,
// the previous one is returned as a row; otherwise the row is nil. A pass
// without a single valid reading is dropped.
func (a *SweepAssembler) Insert(sweep *Sweep) (*spectrum.Row, error) {
	if sweep == nil {
		return nil, ErrNilSweep
	}
	if sweep.BinWidth <= 0 || math.IsNaN(sweep.BinWidth) {
		return nil, fmt.Errorf("invalid bin width: %f", sweep.BinWidth)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var row *spectrum.Row
	if a.contains(sweep) {
		row = assemble(a.drain())
	}

	a.insert(sweep)
	return row, nil
}

// Flush returns the buffered, possibly partial, pass as a row and empties
// the assembler
func (a *SweepAssembler) Flush() *spectrum.Row {
	a.mu.Lock()
	defer a.mu.Unlock()

	return assemble(a.drain())
}

// Size returns the number of buffered chunks
func (a *SweepAssembler) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Clear removes all chunks
func (a *SweepAssembler) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = nil
	a.size = 0
}

func (a *SweepAssembler) contains(sweep *Sweep) bool {
	tolerance := sweep.BinWidth / 2
	for n := a.head; n != nil; n = n.next {
		if math.Abs(n.sweep.StartFrequency-sweep.StartFrequency) <= tolerance {
			return true
		}
	}
	return false
}

func (a *SweepAssembler) insert(sweep *Sweep) {
	a.size++

	if a.head == nil || sweep.StartFrequency < a.head.sweep.StartFrequency {
		a.head = &node{sweep: sweep, next: a.head}
		return
	}

	current := a.head
	for current.next != nil && current.next.sweep.StartFrequency < sweep.StartFrequency {
		current = current.next
	}
	current.next = &node{sweep: sweep, next: current.next}
}

func (a *SweepAssembler) drain() []*Sweep {
	if a.head == nil {
		return nil
	}

	sweeps := make([]*Sweep, 0, a.size)
	for n := a.head; n != nil; n = n.next {
		sweeps = append(sweeps, n.sweep)
	}

	a.head = nil
	a.size = 0
	return sweeps
}

// assemble concatenates frequency ordered chunks. Holes between chunks are
// filled from neighbouring readings, as are unreadable bins.
func assemble(sweeps []*Sweep) *spectrum.Row {
	if len(sweeps) == 0 {
		return nil
	}

	first := sweeps[0]
	timestamp := first.Timestamp
	binWidth := first.BinWidth

	var values []float64
	end := first.StartFrequency
	for _, s := range sweeps {
		if gap := int(math.Round((s.StartFrequency - end) / binWidth)); gap > 0 {
			for range gap {
				values = append(values, math.NaN())
			}
		}

		values = append(values, s.Readings...)
		end = s.StartFrequency + float64(len(s.Readings))*s.BinWidth

		if s.Timestamp.Before(timestamp) {
			timestamp = s.Timestamp
		}
	}

	if !spectrum.FillMissing(values) {
		return nil
	}

	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return spectrum.NewRow(timestamp, first.StartFrequency, end, values)
}
