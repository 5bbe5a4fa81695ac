// Package replay provides a spectrum provider that plays back sweeps
// recorded in a SQLite database.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/storage"
)

// Store is the part of the storage layer used for playback
type Store interface {
	Session(ctx context.Context, id int64) (*spectrum.ScanSession, error)
	ReadRows(ctx context.Context, sessionID int64, opts ...storage.ReaderOption) (*storage.SqliteRowReader, error)
}

// WithLogger sets the logger for the provider
func WithLogger(logger *slog.Logger) func(p *Provider) {
	return func(p *Provider) {
		p.logger = logger.With(slog.String("component", "replay"))
	}
}

// WithFullBand plays back the whole recorded band regardless of the
// requested tuning
func WithFullBand() func(p *Provider) {
	return func(p *Provider) {
		p.fullBand = true
	}
}

// WithoutLoop stops at the end of the recording instead of starting over
func WithoutLoop() func(p *Provider) {
	return func(p *Provider) {
		p.noLoop = true
	}
}

type band struct {
	lo, hi float64
}

// Provider returns one recorded sweep per request, limited to the requested
// band, and starts over at the end of the recording
type Provider struct {
	store     Store
	sessionID int64
	fullBand  bool
	noLoop    bool
	logger    *slog.Logger

	mu      sync.Mutex
	session *spectrum.ScanSession
	reader  *storage.SqliteRowReader
	band    band
}

// New creates a provider playing back the given session
func New(store Store, sessionID int64, options ...func(p *Provider)) *Provider {
	p := Provider{
		store:     store,
		sessionID: sessionID,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// EnterSpectrumMode checks that the recorded session exists
func (p *Provider) EnterSpectrumMode(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return true, nil
	}

	session, err := p.store.Session(ctx, p.sessionID)
	if err != nil {
		return false, fmt.Errorf("loading session %d: %w", p.sessionID, err)
	}

	p.session = session
	p.logger.Info("replaying session",
		slog.Int64("session", session.ID),
		slog.String("device", session.DeviceType),
		slog.Time("started", session.StartTime))
	return true, nil
}

// ExitSpectrumMode releases the reader
func (p *Provider) ExitSpectrumMode(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.session = nil
	return p.closeReader()
}

// Session returns the session being replayed, nil outside spectrum mode
func (p *Provider) Session() *spectrum.ScanSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// RequestSpectrum returns the next recorded sweep. integrationSec is
// ignored, the recording has its own.
func (p *Provider) RequestSpectrum(ctx context.Context, centerMHz, spanMHz, _ float64) (*spectrum.Row, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, errors.New("replay is not in spectrum mode")
	}

	b := band{lo: (centerMHz - spanMHz/2) * 1e6, hi: (centerMHz + spanMHz/2) * 1e6}
	if p.fullBand {
		b = band{}
	}

	if p.reader == nil || p.band != b {
		if err := p.openReader(ctx, b); err != nil {
			return nil, err
		}
	}

	if p.reader.Next(ctx) {
		return p.reader.Current(), nil
	}
	if err := p.reader.Error(); err != nil {
		return nil, err
	}

	// end of the recording
	if p.noLoop {
		return nil, storage.ErrNoData
	}

	p.logger.Debug("recording exhausted, starting over")
	if err := p.openReader(ctx, b); err != nil {
		return nil, err
	}
	if p.reader.Next(ctx) {
		return p.reader.Current(), nil
	}
	if err := p.reader.Error(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w in %s - %s", storage.ErrNoData, formatHz(b.lo), formatHz(b.hi))
}

// Close releases the reader
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeReader()
}

func (p *Provider) openReader(ctx context.Context, b band) error {
	if err := p.closeReader(); err != nil {
		p.logger.Warn("failed to close reader", slog.String("error", err.Error()))
	}

	var opts []storage.ReaderOption
	if b != (band{}) {
		opts = append(opts, storage.WithFreqRange(b.lo, b.hi))
	}

	reader, err := p.store.ReadRows(ctx, p.sessionID, opts...)
	if err != nil {
		return fmt.Errorf("opening reader: %w", err)
	}

	p.reader = reader
	p.band = b
	return nil
}

func (p *Provider) closeReader() error {
	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	p.reader = nil
	return err
}

func formatHz(hz float64) string {
	return humanize.SIWithDigits(hz, 3, "Hz")
}
