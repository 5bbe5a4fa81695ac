package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const (
	defaultImageWidth  = 1024
	defaultImageHeight = 512
	maxImageSide       = 4096

	jpegQuality = 90
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// SettingsResponse is the JSON form of waterfall.Settings
type SettingsResponse struct {
	UpdateIntervalMs  int64   `json:"updateIntervalMs"`
	IntegrationTimeMs int64   `json:"integrationTimeMs"`
	MaxRows           int     `json:"maxRows"`
	DBSmoothing       float64 `json:"dbSmoothing"`
	DBMargin          float64 `json:"dbMargin"`
	MinRangeDB        float64 `json:"minRangeDb"`
	SpanMHz           float64 `json:"spanMHz"`
	CenterFreqMHz     float64 `json:"centerFreqMHz"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Status     waterfall.Status `json:"status"`
	Running    bool             `json:"running"`
	Range      waterfall.Range  `json:"range"`
	Settings   SettingsResponse `json:"settings"`
	HistoryLen int              `json:"historyLen"`
}

func toSettingsResponse(s waterfall.Settings) SettingsResponse {
	return SettingsResponse{
		UpdateIntervalMs:  s.UpdateInterval.Milliseconds(),
		IntegrationTimeMs: s.IntegrationTime.Milliseconds(),
		MaxRows:           s.MaxRows,
		DBSmoothing:       s.DBSmoothing,
		DBMargin:          s.DBMargin,
		MinRangeDB:        s.MinRangeDB,
		SpanMHz:           s.SpanMHz,
		CenterFreqMHz:     s.CenterFreqMHz,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:     s.viewer.Status(),
		Running:    s.viewer.Active(),
		Range:      s.viewer.Range(),
		Settings:   toSettingsResponse(s.viewer.Settings()),
		HistoryLen: s.viewer.Session().HistoryLen(),
	})
}

func (s *Server) handleRange(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.viewer.Range())
}

// handleHistory returns the rows oldest first, optionally only the newest
// `limit` ones
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rows := s.viewer.History()

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v), "limit")
			return
		}
		if limit < len(rows) {
			rows = rows[len(rows)-limit:]
		}
	}

	if rows == nil {
		rows = []*spectrum.Row{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	width, err := imageSide(q.Get("width"), s.imageWidth)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "width")
		return
	}
	height, err := imageSide(q.Get("height"), s.imageHeight)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "height")
		return
	}

	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = "png"
	}
	if format != "png" && format != "jpeg" && format != "jpg" {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format), "format")
		return
	}

	img, err := s.viewer.Render(width, height)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	switch format {
	case "png":
		w.Header().Set("Content-Type", "image/png")
		err = png.Encode(w, img)
	default:
		w.Header().Set("Content-Type", "image/jpeg")
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		s.logger.Warn("failed to encode image", "error", err)
	}
}

func imageSide(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxImageSide {
		return 0, fmt.Errorf("image side must be between 1 and %d: %q given", maxImageSide, v)
	}
	return n, nil
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.viewer.Activate(s.acquisitionContext()); err != nil {
		if errors.Is(err, waterfall.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error(), "")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.handleStatus(w, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.viewer.Deactivate()
	s.handleStatus(w, nil)
}

// handleReset clears the history and keeps the color range
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.viewer.Reset()
	s.handleStatus(w, nil)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, toSettingsResponse(s.viewer.Settings()))
}

// handlePatchSettings applies the fields of a JSON object in the order they
// appear. The first rejected field stops processing; fields before it stay
// applied.
func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeOrderedObject(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err), "")
		return
	}

	for _, f := range fields {
		if err = s.applySetting(f.key, f.value); err != nil {
			var cfgErr *waterfall.ConfigError
			field := f.key
			if errors.As(err, &cfgErr) {
				field = cfgErr.Field
			}
			respondError(w, http.StatusBadRequest, err.Error(), field)
			return
		}
	}

	respondJSON(w, http.StatusOK, toSettingsResponse(s.viewer.Settings()))
}

func (s *Server) applySetting(key string, raw json.RawMessage) error {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: expected a number: %w", key, err)
	}

	switch key {
	case "updateIntervalMs":
		return s.viewer.SetUpdateInterval(millis(v))
	case "integrationTimeMs":
		return s.viewer.SetIntegrationTime(millis(v))
	case "maxRows":
		if v != float64(int(v)) {
			return fmt.Errorf("maxRows: expected an integer, %v given", v)
		}
		return s.viewer.SetMaxRows(int(v))
	case "dbSmoothing":
		return s.viewer.SetDBSmoothing(v)
	case "dbMargin":
		return s.viewer.SetDBMargin(v)
	case "minRangeDb":
		return s.viewer.SetMinRangeDB(v)
	case "spanMHz":
		return s.viewer.SetSpan(v)
	case "centerFreqMHz":
		return s.viewer.SetCenterFrequency(v)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}

func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// TuneRequest is the body of POST /tune
type TuneRequest struct {
	Frequency *float64 `json:"frequency"` // MHz
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req TuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err), "")
		return
	}
	if req.Frequency == nil {
		respondError(w, http.StatusBadRequest, "frequency required", "frequency")
		return
	}

	if err := s.viewer.SetCenterFrequency(*req.Frequency); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "frequency")
		return
	}

	respondJSON(w, http.StatusOK, toSettingsResponse(s.viewer.Settings()))
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.presets)
}

func (s *Server) handleAirportPreset(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToUpper(mux.Vars(r)["icao"])

	airport, ok := s.presets.Airports[icao]
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("airport %s not found", icao), "icao")
		return
	}
	respondJSON(w, http.StatusOK, airport)
}

// FavoritesResponse is the body of the favorites endpoints
type FavoritesResponse struct {
	Favorites []Favorite `json:"favorites"`
}

// RemovedFavoriteResponse is the body of DELETE /favorites/{index}
type RemovedFavoriteResponse struct {
	Removed Favorite `json:"removed"`
}

func (s *Server) handleFavorites(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, FavoritesResponse{Favorites: nonNil(s.favorites.List())})
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frequency *float64 `json:"freq"`
		Mode      string   `json:"mode"`
		Name      string   `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err), "")
		return
	}
	if req.Frequency == nil {
		respondError(w, http.StatusBadRequest, "freq required", "freq")
		return
	}

	favorites, err := s.favorites.Add(Favorite{Frequency: *req.Frequency, Mode: req.Mode, Name: req.Name})
	switch {
	case errors.Is(err, ErrInvalidFavorite), errors.Is(err, ErrDuplicateFavorite):
		respondError(w, http.StatusBadRequest, err.Error(), "freq")
		return
	case err != nil:
		s.logger.Error(fmt.Sprintf("saving favorites: %s", err))
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	respondJSON(w, http.StatusOK, FavoritesResponse{Favorites: favorites})
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusNotFound, ErrFavoriteNotFound.Error(), "index")
		return
	}

	removed, err := s.favorites.Remove(index)
	switch {
	case errors.Is(err, ErrFavoriteNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "index")
		return
	case err != nil:
		s.logger.Error(fmt.Sprintf("saving favorites: %s", err))
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	respondJSON(w, http.StatusOK, RemovedFavoriteResponse{Removed: removed})
}

func (s *Server) handleClearFavorites(w http.ResponseWriter, _ *http.Request) {
	if err := s.favorites.Clear(); err != nil {
		s.logger.Error(fmt.Sprintf("saving favorites: %s", err))
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	respondJSON(w, http.StatusOK, FavoritesResponse{Favorites: []Favorite{}})
}

// GainsResponse is the body of GET /gains. Gain is "auto", a number of dB,
// or null while the configured gain is in use.
type GainsResponse struct {
	Gains []float64 `json:"gains"`
	Gain  any       `json:"gain"`
}

// GainRequest is the body of POST /gain: "auto" or a number of dB
type GainRequest struct {
	Gain json.RawMessage `json:"gain"`
}

func gainValue(g sdr.Gain) any {
	switch {
	case !g.Override:
		return nil
	case g.Auto:
		return "auto"
	default:
		return g.DB
	}
}

func parseGain(raw json.RawMessage) (sdr.Gain, error) {
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		if !strings.EqualFold(mode, "auto") {
			return sdr.Gain{}, fmt.Errorf("unknown gain %q", mode)
		}
		return sdr.Gain{Auto: true}, nil
	}

	var db float64
	if err := json.Unmarshal(raw, &db); err != nil {
		return sdr.Gain{}, errors.New("gain must be \"auto\" or a number of dB")
	}
	return sdr.Gain{DB: db}, nil
}

func (s *Server) handleGains(w http.ResponseWriter, _ *http.Request) {
	if s.gain == nil {
		respondJSON(w, http.StatusOK, GainsResponse{Gains: []float64{}})
		return
	}
	respondJSON(w, http.StatusOK, GainsResponse{
		Gains: nonNil(s.gain.Gains()),
		Gain:  gainValue(s.gain.Gain()),
	})
}

func (s *Server) handleSetGain(w http.ResponseWriter, r *http.Request) {
	if s.gain == nil {
		respondError(w, http.StatusNotImplemented, sdr.ErrGainUnsupported.Error(), "gain")
		return
	}

	var req GainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err), "")
		return
	}
	if len(req.Gain) == 0 || string(req.Gain) == "null" {
		respondError(w, http.StatusBadRequest, "gain required", "gain")
		return
	}

	g, err := parseGain(req.Gain)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "gain")
		return
	}

	switch err = s.gain.SetGain(g); {
	case errors.Is(err, sdr.ErrGainUnsupported):
		respondError(w, http.StatusNotImplemented, err.Error(), "gain")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error(), "gain")
		return
	}

	respondJSON(w, http.StatusOK, GainsResponse{
		Gains: nonNil(s.gain.Gains()),
		Gain:  gainValue(s.gain.Gain()),
	})
}

// nonNil keeps empty lists from being encoded as null
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, field string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Field: field})
}

type orderedField struct {
	key   string
	value json.RawMessage
}

// decodeOrderedObject reads a JSON object and returns its members in the
// order they appear in the document
func decodeOrderedObject(r io.Reader) ([]orderedField, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var fields []orderedField
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err = dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		fields = append(fields, orderedField{key: key, value: value})
	}

	if _, err = dec.Token(); err != nil { // closing brace
		return nil, err
	}
	return fields, nil
}
