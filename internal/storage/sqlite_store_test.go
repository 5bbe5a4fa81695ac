package storage

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()

	s := NewSqliteStore(filepath.Join(t.TempDir(), "sweeps.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recordSession(t *testing.T, s *SqliteStore, rows ...*spectrum.Row) int64 {
	t.Helper()
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "RTL-SDR", "0", map[string]any{"gain": 20})
	require.NoError(t, err)

	for _, row := range rows {
		require.NoError(t, s.StoreRow(ctx, id, row, 1024))
	}
	return id
}

func TestSqliteStore_Sessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "RTL-SDR", "0", nil)
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, "HackRF", "0000000000000000457863c8", `{"lnaGain":16}`)
	require.NoError(t, err)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first, sessions[0].ID)
	assert.Nil(t, sessions[0].Config)

	sess, err := s.Session(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "HackRF", sess.DeviceType)
	require.NotNil(t, sess.Config)
	assert.JSONEq(t, `{"lnaGain":16}`, *sess.Config)

	_, err = s.Session(ctx, second+1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSqliteStore_StoreWideRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bins := samplesPerInsert*2 + 7
	values := make([]float64, bins)
	for i := range values {
		values[i] = -100 + float64(i%50)
	}

	id := recordSession(t, s, spectrum.NewRow(time.Now(), 88e6, 88e6+float64(bins)*1e3, values))

	r, err := s.ReadRows(ctx, id)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next(ctx))
	assert.Equal(t, values, r.Current().Values)
	assert.False(t, r.Next(ctx))
	require.NoError(t, r.Error())
}

func TestSqliteStore_ReadRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	id := recordSession(t, s,
		spectrum.NewRow(base, 100e6, 100.4e6, []float64{-90, -80, -70, -60}),
		spectrum.NewRow(base.Add(time.Second), 100e6, 100.4e6, []float64{-91, math.NaN(), -71, -61}),
		spectrum.NewRow(base.Add(2*time.Second), 100e6, 100.4e6, []float64{-92, -82, -72, -62}),
	)

	r, err := s.ReadRows(ctx, id)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, id, r.Session().ID)

	var got []*spectrum.Row
	for r.Next(ctx) {
		got = append(got, r.Current())
	}
	require.NoError(t, r.Error())
	assert.True(t, r.Exhausted())
	require.Len(t, got, 3)

	assert.Equal(t, []float64{-90, -80, -70, -60}, got[0].Values)
	assert.Equal(t, []float64{-91, -91, -71, -61}, got[1].Values, "missing reading filled from its neighbour")
	assert.Equal(t, []float64{-92, -82, -72, -62}, got[2].Values)

	assert.True(t, got[1].Timestamp.Equal(base.Add(time.Second)))
	assert.InDelta(t, 100e6, got[0].FrequencyStart, 1)
	assert.InDelta(t, 100.4e6, got[0].FrequencyEnd, 1)
	assert.NoError(t, got[0].Validate())
}

func TestSqliteStore_ReadRowsFreqRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := recordSession(t, s,
		spectrum.NewRow(time.Now(), 100e6, 100.4e6, []float64{-90, -80, -70, -60}),
	)

	r, err := s.ReadRows(ctx, id, WithFreqRange(100.1e6, 100.3e6))
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next(ctx))
	assert.Equal(t, []float64{-80, -70}, r.Current().Values)
	assert.False(t, r.Next(ctx))
}

func TestSqliteStore_ReadRowsFillsGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now()

	// two chunks of one sweep with a missing chunk between them
	id, err := s.CreateSession(ctx, "RTL-SDR", "0", nil)
	require.NoError(t, err)
	require.NoError(t, s.StoreRow(ctx, id, spectrum.NewRow(ts, 100e6, 100.2e6, []float64{-90, -85}), 1))
	require.NoError(t, s.StoreRow(ctx, id, spectrum.NewRow(ts, 100.4e6, 100.6e6, []float64{-70, -65}), 1))

	r, err := s.ReadRows(ctx, id)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next(ctx))
	assert.Equal(t, []float64{-90, -85, -85, -85, -70, -65}, r.Current().Values)
}

func TestSqliteStore_ReadRowsInvalidOptions(t *testing.T) {
	s := newTestStore(t)
	id := recordSession(t, s)

	_, err := s.ReadRows(context.Background(), id, WithFreqRange(2e6, 1e6))
	assert.Error(t, err)

	_, err = s.ReadRows(context.Background(), 0)
	assert.Error(t, err)
}
