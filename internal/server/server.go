// Package server exposes a waterfall viewer over HTTP: JSON control and
// status endpoints, rendered images, a WebSocket stream of applied rows and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const (
	apiPrefix = "/api/waterfall"

	shutdownTimeout = 5 * time.Second
)

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// WithPresets replaces the default tuning presets
func WithPresets(presets Presets) func(s *Server) {
	return func(s *Server) {
		s.presets = presets
	}
}

// WithFavorites replaces the in-memory favorites
func WithFavorites(favorites *Favorites) func(s *Server) {
	return func(s *Server) {
		s.favorites = favorites
	}
}

// WithGainControl enables the gain endpoints
func WithGainControl(gain GainControl) func(s *Server) {
	return func(s *Server) {
		s.gain = gain
	}
}

// WithMetrics exposes metrics on /metrics
func WithMetrics(metrics *Metrics) func(s *Server) {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithImageSize sets the size of images rendered without explicit dimensions
func WithImageSize(width, height int) func(s *Server) {
	return func(s *Server) {
		s.imageWidth = width
		s.imageHeight = height
	}
}

// GainControl is a radio source whose gain can change at runtime
type GainControl interface {
	Gains() []float64
	Gain() sdr.Gain
	SetGain(g sdr.Gain) error
}

// Server serves one viewer
type Server struct {
	viewer    *waterfall.Viewer
	presets   Presets
	favorites *Favorites
	gain      GainControl
	metrics   *Metrics

	imageWidth  int
	imageHeight int

	router   *mux.Router
	upgrader websocket.Upgrader
	clients  sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context // parent of the acquisition started over HTTP

	logger *slog.Logger
}

// New creates a server for viewer
func New(viewer *waterfall.Viewer, options ...func(s *Server)) *Server {
	s := Server{
		viewer:      viewer,
		presets:     DefaultPresets(),
		favorites:   NewFavorites(),
		imageWidth:  defaultImageWidth,
		imageHeight: defaultImageHeight,
		router:      mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // any origin
			},
		},
		baseCtx: context.Background(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	s.routes()
	return &s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	// a known path with the wrong method answers 405, which mux only does
	// for routes on the root router
	api := []struct {
		path    string
		method  string
		handler http.HandlerFunc
	}{
		{"/status", http.MethodGet, s.handleStatus},
		{"/range", http.MethodGet, s.handleRange},
		{"/history", http.MethodGet, s.handleHistory},
		{"/image", http.MethodGet, s.handleImage},
		{"/start", http.MethodPost, s.handleStart},
		{"/stop", http.MethodPost, s.handleStop},
		{"/reset", http.MethodPost, s.handleReset},
		{"/settings", http.MethodGet, s.handleGetSettings},
		{"/settings", http.MethodPatch, s.handlePatchSettings},
		{"/tune", http.MethodPost, s.handleTune},
		{"/presets", http.MethodGet, s.handlePresets},
		{"/presets/airport/{icao}", http.MethodGet, s.handleAirportPreset},
		{"/favorites", http.MethodGet, s.handleFavorites},
		{"/favorites", http.MethodPost, s.handleAddFavorite},
		{"/favorites/clear", http.MethodPost, s.handleClearFavorites},
		{"/favorites/{index:[0-9]+}", http.MethodDelete, s.handleRemoveFavorite},
		{"/gains", http.MethodGet, s.handleGains},
		{"/gain", http.MethodPost, s.handleSetGain},
	}
	for _, r := range api {
		s.router.HandleFunc(apiPrefix+r.path, r.handler).Methods(r.method)
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. Acquisition started over HTTP lives as long as ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serving: %w", err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	s.clients.Wait()

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) acquisitionContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// logRequests is a mux middleware logging every request at debug level
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)))
	})
}
