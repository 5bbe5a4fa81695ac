package waterfall

import (
	"testing"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

func testRow(id int) *spectrum.Row {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return spectrum.NewRow(base.Add(time.Duration(id)*time.Second), 98_300_000, 100_700_000, []float64{float64(-id)})
}

func rowIDs(rows []*spectrum.Row) []int {
	ids := make([]int, len(rows))
	for i, r := range rows {
		ids[i] = int(-r.Values[0])
	}
	return ids
}

func TestHistory_FIFO(t *testing.T) {
	h, err := NewHistory(5)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}

	for i := 1; i <= 12; i++ {
		if err := h.Push(testRow(i)); err != nil {
			t.Fatalf("Failed to push row %d: %v", i, err)
		}
		if h.Len() > h.Capacity() {
			t.Fatalf("after push %d: length %d exceeds capacity %d", i, h.Len(), h.Capacity())
		}
	}

	want := []int{8, 9, 10, 11, 12}
	got := rowIDs(h.Snapshot())
	if len(got) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Row %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	if latest := h.Latest(); latest == nil || int(-latest.Values[0]) != 12 {
		t.Errorf("Expected latest row 12, got %v", latest)
	}
}

func TestHistory_ShrinkCapacity(t *testing.T) {
	h, err := NewHistory(100)
	if err != nil {
		t.Fatalf("Failed to create history: %v", err)
	}
	for i := 1; i <= 100; i++ {
		_ = h.Push(testRow(i))
	}

	if err = h.SetCapacity(10); err != nil {
		t.Fatalf("Failed to set capacity: %v", err)
	}

	got := rowIDs(h.Snapshot())
	if len(got) != 10 {
		t.Fatalf("Expected 10 rows, got %d", len(got))
	}
	for i, id := range got {
		if want := 91 + i; id != want {
			t.Errorf("Row %d: expected %d, got %d", i, want, id)
		}
	}

	// growing never brings rows back
	if err = h.SetCapacity(50); err != nil {
		t.Fatalf("Failed to set capacity: %v", err)
	}
	if h.Len() != 10 {
		t.Errorf("Expected 10 rows after growing, got %d", h.Len())
	}
}

func TestHistory_SnapshotIsACopy(t *testing.T) {
	h, _ := NewHistory(3)
	_ = h.Push(testRow(1))

	snap := h.Snapshot()
	snap[0] = testRow(99)

	if got := rowIDs(h.Snapshot()); got[0] != 1 {
		t.Errorf("snapshot mutation leaked into history: %v", got)
	}
}

func TestHistory_InvalidInput(t *testing.T) {
	if _, err := NewHistory(0); err == nil {
		t.Error("Expected error for zero capacity")
	}

	h, _ := NewHistory(2)
	if err := h.Push(nil); err == nil {
		t.Error("Expected error for nil row")
	}
	if err := h.SetCapacity(-1); err == nil {
		t.Error("Expected error for negative capacity")
	}
	if h.Capacity() != 2 {
		t.Errorf("Expected capacity 2, got %d", h.Capacity())
	}
}

func TestHistory_Reset(t *testing.T) {
	h, _ := NewHistory(3)
	_ = h.Push(testRow(1))
	_ = h.Push(testRow(2))

	h.Reset()

	if h.Len() != 0 || h.Latest() != nil {
		t.Errorf("Expected empty history, got %d rows", h.Len())
	}
	if h.Capacity() != 3 {
		t.Errorf("Expected capacity to survive reset, got %d", h.Capacity())
	}
}
