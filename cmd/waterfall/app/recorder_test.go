package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

type memoryStore struct {
	mu       sync.Mutex
	sessions []string
	rows     map[int64][]*spectrum.Row
}

func (m *memoryStore) CreateSession(_ context.Context, deviceType, deviceID string, _ any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = append(m.sessions, deviceType+"/"+deviceID)
	return int64(len(m.sessions)), nil
}

func (m *memoryStore) StoreRow(_ context.Context, sessionID int64, row *spectrum.Row, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rows == nil {
		m.rows = make(map[int64][]*spectrum.Row)
	}
	m.rows[sessionID] = append(m.rows[sessionID], row)
	return nil
}

func (m *memoryStore) count(sessionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[sessionID])
}

type channelSource struct {
	updates chan waterfall.Update
}

func (c channelSource) Subscribe(int) (<-chan waterfall.Update, func()) {
	return c.updates, func() {}
}

func TestRecorder_Run(t *testing.T) {
	store := &memoryStore{}
	source := channelSource{updates: make(chan waterfall.Update)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := NewRecorder(store, "RTL-SDR", "roof", nil)
	sessionID, done, err := recorder.Run(ctx, source)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sessionID != 1 || store.sessions[0] != "RTL-SDR/roof" {
		t.Fatalf("session = %d %v", sessionID, store.sessions)
	}

	for i := range 3 {
		row := spectrum.NewRow(time.Now(), 100e6, 101e6, []float64{float64(-i)})
		source.updates <- waterfall.Update{Status: waterfall.StatusLive, Row: row}
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.count(sessionID) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("stored %d rows, want 3", store.count(sessionID))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}
