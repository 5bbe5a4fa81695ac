package app

import (
	"context"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func recordSession(t *testing.T, path string) int64 {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSqliteStore(path)
	defer store.Close()

	id, err := store.CreateSession(ctx, "RTL-SDR", "0", nil)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 10 {
		values := make([]float64, 16)
		for b := range values {
			values[b] = -90 + float64((b+i)%8)*5
		}
		row := spectrum.NewRow(base.Add(time.Duration(i)*time.Second), 100e6, 101.6e6, values)
		if err = store.StoreRow(ctx, id, row, 1024); err != nil {
			t.Fatalf("Failed to store row: %v", err)
		}
	}
	return id
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "recording.db")
	id := recordSession(t, db)

	config, err := NewConfigFromCLI([]string{"--db", db, "-s", "1", "-o", filepath.Join(dir, "out"), "--no-annotations"})
	if err != nil {
		t.Fatalf("NewConfigFromCLI() error = %v", err)
	}
	if config.SessionID != id {
		t.Fatalf("SessionID = %d, want %d", config.SessionID, id)
	}

	if err = Run(context.Background(), config, discard); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "out.png"))
	if err != nil {
		t.Fatalf("Failed to open output: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if got := img.Bounds().Size(); got.X != 16 || got.Y != 10 {
		t.Errorf("image size = %v, want 16x10", got)
	}
}

func TestRender_BandAndPower(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "recording.db")
	id := recordSession(t, db)

	store := storage.NewSqliteStore(db)
	defer store.Close()

	minFreq, maxFreq := 100.0, 100.8
	minPower, maxPower := -100.0, -40.0
	config := NewConfig()
	config.SessionID = id
	config.MinFrequency, config.MaxFrequency = &minFreq, &maxFreq
	config.MinPower, config.MaxPower = &minPower, &maxPower
	config.Width, config.Height = 200, 100

	img, err := Render(context.Background(), store, config, discard)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got := img.Bounds().Size(); got.X != 200 || got.Y != 100 {
		t.Errorf("image size = %v, want 200x100", got)
	}
}

func TestRender_EmptyBand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "recording.db")
	id := recordSession(t, db)

	store := storage.NewSqliteStore(db)
	defer store.Close()

	minFreq, maxFreq := 433.0, 434.0
	config := NewConfig()
	config.SessionID = id
	config.MinFrequency, config.MaxFrequency = &minFreq, &maxFreq

	if _, err := Render(context.Background(), store, config, discard); !errors.Is(err, storage.ErrNoData) {
		t.Errorf("Render() error = %v, want ErrNoData", err)
	}
}

func TestNewConfigFromCLI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing db", []string{"-o", "out"}},
		{"missing output", []string{"--db", "x.db"}},
		{"format", []string{"--db", "x.db", "-o", "out", "-f", "gif"}},
		{"theme", []string{"--db", "x.db", "-o", "out", "--theme", "neon"}},
		{"half band", []string{"--db", "x.db", "-o", "out", "--min-freq", "100"}},
		{"power", []string{"--db", "x.db", "-o", "out", "--min-power", "-20", "--max-power", "-80"}},
		{"rows", []string{"--db", "x.db", "-o", "out", "--max-rows", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfigFromCLI(tt.args); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestNewConfigFromCLI_ReturnsValidationError(t *testing.T) {
	_, err := NewConfigFromCLI([]string{"-o", "out"})
	if err == nil || err.Error() != "db path is required" {
		t.Fatalf("NewConfigFromCLI() error = %v, want the validation error", err)
	}
}
