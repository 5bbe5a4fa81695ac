package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/storage"
)

func recordedStore(t *testing.T) (*storage.SqliteStore, int64) {
	t.Helper()
	ctx := context.Background()

	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), "recording.db"))
	t.Cleanup(func() { _ = store.Close() })

	id, err := store.CreateSession(ctx, "RTL-SDR", "0", nil)
	require.NoError(t, err)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		offset := float64(i)
		row := spectrum.NewRow(base.Add(time.Duration(i)*time.Second), 100e6, 100.4e6,
			[]float64{-90 - offset, -80 - offset, -70 - offset, -60 - offset})
		require.NoError(t, store.StoreRow(ctx, id, row, 1024))
	}
	return store, id
}

func TestReplay_Loops(t *testing.T) {
	store, id := recordedStore(t)
	ctx := context.Background()

	p := New(store, id)
	defer p.Close()

	ok, err := p.EnterSpectrumMode(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RTL-SDR", p.Session().DeviceType)

	var firsts []float64
	for range 5 {
		row, err := p.RequestSpectrum(ctx, 100.2, 0.4, 0.2)
		require.NoError(t, err)
		require.Len(t, row.Values, 4)
		firsts = append(firsts, row.Values[0])
	}

	assert.Equal(t, []float64{-90, -91, -92, -90, -91}, firsts)
}

func TestReplay_BandFilter(t *testing.T) {
	store, id := recordedStore(t)
	ctx := context.Background()

	p := New(store, id)
	defer p.Close()

	_, err := p.EnterSpectrumMode(ctx)
	require.NoError(t, err)

	row, err := p.RequestSpectrum(ctx, 100.3, 0.2, 0.2)
	require.NoError(t, err)
	assert.Equal(t, []float64{-70, -60}, row.Values)

	// retune reopens the reader from the start
	row, err = p.RequestSpectrum(ctx, 100.2, 0.4, 0.2)
	require.NoError(t, err)
	assert.Equal(t, []float64{-90, -80, -70, -60}, row.Values)

	_, err = p.RequestSpectrum(ctx, 433, 1, 0.2)
	assert.ErrorIs(t, err, storage.ErrNoData)
}

func TestReplay_FullBandWithoutLoop(t *testing.T) {
	store, id := recordedStore(t)
	ctx := context.Background()

	p := New(store, id, WithFullBand(), WithoutLoop())
	defer p.Close()

	_, err := p.EnterSpectrumMode(ctx)
	require.NoError(t, err)

	for range 3 {
		row, err := p.RequestSpectrum(ctx, 433, 1, 0.2)
		require.NoError(t, err)
		assert.Len(t, row.Values, 4)
	}

	_, err = p.RequestSpectrum(ctx, 433, 1, 0.2)
	assert.ErrorIs(t, err, storage.ErrNoData)
}

func TestReplay_ModeErrors(t *testing.T) {
	store, _ := recordedStore(t)
	ctx := context.Background()

	p := New(store, 999)
	_, err := p.RequestSpectrum(ctx, 100, 1, 0.2)
	assert.Error(t, err, "expected an error outside spectrum mode")

	ok, err := p.EnterSpectrumMode(ctx)
	assert.Error(t, err)
	assert.False(t, ok)

	assert.NoError(t, p.ExitSpectrumMode(ctx))
}
