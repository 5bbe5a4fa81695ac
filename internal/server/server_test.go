package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) RequestSpectrum(_ context.Context, centerMHz, spanMHz, _ float64) (*spectrum.Row, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	start := (centerMHz - spanMHz/2) * 1e6
	end := (centerMHz + spanMHz/2) * 1e6
	return spectrum.NewRow(time.Now(), start, end, []float64{-90, -80 + float64(n%3), -70, -85}), nil
}

func (p *stubProvider) EnterSpectrumMode(context.Context) (bool, error) { return true, nil }

func (p *stubProvider) ExitSpectrumMode(context.Context) error { return nil }

type fixture struct {
	viewer *waterfall.Viewer
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, options ...func(s *Server)) *fixture {
	t.Helper()

	settings := waterfall.DefaultSettings()
	settings.UpdateInterval = waterfall.MinUpdateInterval

	session, err := waterfall.NewSession(settings)
	require.NoError(t, err)

	renderer, err := waterfall.NewRenderer(waterfall.RenderConfig{})
	require.NoError(t, err)

	metrics := NewMetrics(session)
	viewer := waterfall.NewViewer(session, &stubProvider{}, renderer, waterfall.WithTickHook(metrics.ObserveTick))
	t.Cleanup(viewer.Deactivate)

	options = append([]func(s *Server){WithMetrics(metrics), WithImageSize(320, 160)}, options...)
	srv := New(viewer, options...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{viewer: viewer, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, r)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) waitForRows(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.viewer.Session().HistoryLen() >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Status(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, waterfall.StatusWaiting, status.Status)
	assert.False(t, status.Running)
	assert.Equal(t, waterfall.DefaultRange(), status.Range)
	assert.Equal(t, int64(50), status.Settings.UpdateIntervalMs)
	assert.Equal(t, 99.5, status.Settings.CenterFreqMHz)
	assert.Zero(t, status.HistoryLen)
}

func TestServer_StartStop(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, apiPrefix+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.waitForRows(t, 2)

	resp, body := f.do(t, http.MethodPost, apiPrefix+"/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "already running")

	resp, body = f.do(t, http.MethodPost, apiPrefix+"/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.Running)
	assert.GreaterOrEqual(t, status.HistoryLen, 2)

	resp, body = f.do(t, http.MethodGet, apiPrefix+"/history?limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []*spectrum.Row
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Values, 4)

	rng := f.viewer.Range()
	resp, body = f.do(t, http.MethodPost, apiPrefix+"/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Zero(t, status.HistoryLen)
	assert.Equal(t, rng, status.Range, "reset keeps the color range")
}

func TestServer_History(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, _ = f.do(t, http.MethodGet, apiPrefix+"/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PatchSettings(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
		check     func(t *testing.T, s waterfall.Settings)
	}{
		{
			name:     "all fields",
			body:     `{"updateIntervalMs": 250, "integrationTimeMs": 100, "maxRows": 50, "dbSmoothing": 0.5, "dbMargin": 2, "minRangeDb": 30, "spanMHz": 1.2, "centerFreqMHz": 118.5}`,
			wantCode: http.StatusOK,
			check: func(t *testing.T, s waterfall.Settings) {
				assert.Equal(t, 250*time.Millisecond, s.UpdateInterval)
				assert.Equal(t, 100*time.Millisecond, s.IntegrationTime)
				assert.Equal(t, 50, s.MaxRows)
				assert.Equal(t, 0.5, s.DBSmoothing)
				assert.Equal(t, 2.0, s.DBMargin)
				assert.Equal(t, 30.0, s.MinRangeDB)
				assert.Equal(t, 1.2, s.SpanMHz)
				assert.Equal(t, 118.5, s.CenterFreqMHz)
			},
		},
		{
			name:      "fields before the rejected one stay applied",
			body:      `{"maxRows": 10, "dbMargin": -1, "spanMHz": 1}`,
			wantCode:  http.StatusBadRequest,
			wantField: "dbMargin",
			check: func(t *testing.T, s waterfall.Settings) {
				assert.Equal(t, 10, s.MaxRows)
				assert.Equal(t, 2.4, s.SpanMHz)
			},
		},
		{
			name:      "update interval below the minimum",
			body:      `{"updateIntervalMs": 10}`,
			wantCode:  http.StatusBadRequest,
			wantField: "updateInterval",
		},
		{
			name:      "fractional max rows",
			body:      `{"maxRows": 1.5}`,
			wantCode:  http.StatusBadRequest,
			wantField: "maxRows",
		},
		{
			name:      "unknown field",
			body:      `{"gain": 20}`,
			wantCode:  http.StatusBadRequest,
			wantField: "gain",
		},
		{
			name:     "not an object",
			body:     `[1, 2]`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp, body := f.do(t, http.MethodPatch, apiPrefix+"/settings", tt.body)
			require.Equal(t, tt.wantCode, resp.StatusCode, string(body))

			if tt.wantCode != http.StatusOK {
				var e ErrorResponse
				require.NoError(t, json.Unmarshal(body, &e))
				assert.NotEmpty(t, e.Error)
				assert.Equal(t, tt.wantField, e.Field)
			}
			if tt.check != nil {
				tt.check(t, f.viewer.Settings())
			}
		})
	}
}

func TestServer_Tune(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, apiPrefix+"/tune", `{"frequency": 121.9}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var settings SettingsResponse
	require.NoError(t, json.Unmarshal(body, &settings))
	assert.Equal(t, 121.9, settings.CenterFreqMHz)

	resp, _ = f.do(t, http.MethodPost, apiPrefix+"/tune", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, apiPrefix+"/tune", `{"frequency": 3000}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 121.9, f.viewer.Settings().CenterFreqMHz)
}

func TestServer_Presets(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/presets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var presets Presets
	require.NoError(t, json.Unmarshal(body, &presets))
	assert.Len(t, presets.FM, 4)
	assert.Contains(t, presets.Airports, "SBGR")

	resp, body = f.do(t, http.MethodGet, apiPrefix+"/presets/airport/sbsj", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var airport Airport
	require.NoError(t, json.Unmarshal(body, &airport))
	assert.Equal(t, "Sao Jose dos Campos", airport.Name)
	assert.Equal(t, 118.5, airport.Frequencies[0].Frequency)

	resp, _ = f.do(t, http.MethodGet, apiPrefix+"/presets/airport/XXXX", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Favorites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio", "favorites.yaml")
	favorites, err := LoadFavorites(path)
	require.NoError(t, err)

	f := newFixture(t, WithFavorites(favorites))

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/favorites", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"favorites":[]}`, string(body))

	resp, body = f.do(t, http.MethodPost, apiPrefix+"/favorites", `{"freq":99.5,"mode":"wfm","name":"Jovem Pan"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = f.do(t, http.MethodPost, apiPrefix+"/favorites", `{"freq":118.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list FavoritesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Favorites, 2)
	assert.Equal(t, Favorite{Frequency: 99.5, Mode: "WFM", Name: "Jovem Pan"}, list.Favorites[0])
	assert.Equal(t, "FM", list.Favorites[1].Mode)

	tests := []struct {
		body  string
		error string
	}{
		{`{"name":"nothing"}`, "freq required"},
		{`{"freq":-1}`, "invalid freq"},
		{`{"freq":99.505}`, "frequency already in favorites"},
		{`{"freq":`, ""},
	}
	for _, tt := range tests {
		resp, body = f.do(t, http.MethodPost, apiPrefix+"/favorites", tt.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.body)
		if tt.error != "" {
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tt.error, e.Error)
		}
	}

	// every change is on disk
	reloaded, err := LoadFavorites(path)
	require.NoError(t, err)
	assert.Equal(t, list.Favorites, reloaded.List())

	resp, _ = f.do(t, http.MethodDelete, apiPrefix+"/favorites/2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodDelete, apiPrefix+"/favorites/0", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var removed RemovedFavoriteResponse
	require.NoError(t, json.Unmarshal(body, &removed))
	assert.Equal(t, "Jovem Pan", removed.Removed.Name)
	assert.Len(t, favorites.List(), 1)

	resp, _ = f.do(t, http.MethodPost, apiPrefix+"/favorites/clear", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err = LoadFavorites(path)
	require.NoError(t, err)
	assert.Empty(t, reloaded.List())
}

func TestLoadFavorites_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favorites.yaml")
	require.NoError(t, os.WriteFile(path, []byte("favorites: {"), 0o644))

	_, err := LoadFavorites(path)
	assert.Error(t, err)
}

func TestServer_Gain(t *testing.T) {
	radio := sdr.NewProvider("rtl_power", nil, sdr.WithGains(0, 28, 49.6))
	f := newFixture(t, WithGainControl(radio))

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/gains", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"gains":[0,28,49.6],"gain":null}`, string(body))

	resp, body = f.do(t, http.MethodPost, apiPrefix+"/gain", `{"gain":28}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"gains":[0,28,49.6],"gain":28}`, string(body))
	assert.Equal(t, sdr.Gain{Override: true, DB: 28}, radio.Gain())

	resp, body = f.do(t, http.MethodPost, apiPrefix+"/gain", `{"gain":"AUTO"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"gains":[0,28,49.6],"gain":"auto"}`, string(body))

	tests := []struct {
		body  string
		error string
	}{
		{`{}`, "gain required"},
		{`{"gain":null}`, "gain required"},
		{`{"gain":"loud"}`, `unknown gain "loud"`},
		{`{"gain":true}`, `gain must be "auto" or a number of dB`},
		{`{"gain":27}`, "invalid gain: 27.0 dB"},
	}
	for _, tt := range tests {
		resp, body = f.do(t, http.MethodPost, apiPrefix+"/gain", tt.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.body)

		var e ErrorResponse
		require.NoError(t, json.Unmarshal(body, &e))
		assert.Equal(t, tt.error, e.Error, tt.body)
	}
	assert.True(t, radio.Gain().Auto, "a rejected gain keeps the current one")
}

func TestServer_GainUnavailable(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/gains", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"gains":[],"gain":null}`, string(body))

	resp, _ = f.do(t, http.MethodPost, apiPrefix+"/gain", `{"gain":"auto"}`)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestServer_Image(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, apiPrefix+"/image", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 160, img.Bounds().Dy())

	resp, _ = f.do(t, http.MethodGet, apiPrefix+"/image?format=jpeg&width=64&height=32", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	for _, q := range []string{"width=0", "height=5000", "width=abc", "format=gif"} {
		resp, _ = f.do(t, http.MethodGet, apiPrefix+"/image?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, apiPrefix + "/start", http.StatusMethodNotAllowed},
		{http.MethodGet, apiPrefix + "/reset", http.StatusMethodNotAllowed},
		{http.MethodPost, apiPrefix + "/settings", http.StatusMethodNotAllowed},
		{http.MethodDelete, apiPrefix + "/status", http.StatusMethodNotAllowed},
		{http.MethodPut, apiPrefix + "/favorites", http.StatusMethodNotAllowed},
		{http.MethodGet, apiPrefix + "/gain", http.StatusMethodNotAllowed},
		{http.MethodGet, apiPrefix + "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, _ := f.do(t, tt.method, tt.path, "")
		assert.Equal(t, tt.want, resp.StatusCode, "%s %s", tt.method, tt.path)
	}
}

func TestServer_WebSocket(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the subscription is registered once the handler runs
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.server.metrics.wsClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ := f.do(t, http.MethodPost, apiPrefix+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var u waterfall.Update
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, waterfall.StatusLive, u.Status)
	require.NotNil(t, u.Row)
	assert.Len(t, u.Row.Values, 4)
	assert.LessOrEqual(t, u.Range.Min, -90.0)
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, apiPrefix+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.waitForRows(t, 1)
	f.viewer.Deactivate()

	resp, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	text := string(body)
	assert.Contains(t, text, "waterfall_rows_applied_total")
	assert.Contains(t, text, "waterfall_row_bins 4")
	assert.Contains(t, text, "waterfall_range_min_db")
	assert.Contains(t, text, "waterfall_history_rows")
}

func TestMetrics_ObserveTick(t *testing.T) {
	session, err := waterfall.NewSession(waterfall.DefaultSettings())
	require.NoError(t, err)

	m := NewMetrics(session)
	m.ObserveTick(nil, waterfall.ErrModeNotActive)
	m.ObserveTick(nil, context.DeadlineExceeded)
	m.ObserveTick(nil, spectrum.ErrMalformedRow)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	text := rec.Body.String()
	assert.Contains(t, text, `waterfall_tick_errors_total{reason="mode"} 1`)
	assert.Contains(t, text, `waterfall_tick_errors_total{reason="timeout"} 1`)
	assert.Contains(t, text, `waterfall_tick_errors_total{reason="malformed"} 1`)
	assert.Contains(t, text, "waterfall_live 0")
}

func TestDecodeOrderedObject(t *testing.T) {
	fields, err := decodeOrderedObject(strings.NewReader(`{"b": 1, "a": {"x": [1]}, "c": "s"}`))
	require.NoError(t, err)

	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.key
	}
	assert.Equal(t, []string{"b", "a", "c"}, keys)
	assert.JSONEq(t, `{"x": [1]}`, string(fields[1].value))

	_, err = decodeOrderedObject(strings.NewReader(`{"a": 1`))
	assert.Error(t, err)
}
