package waterfall

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

const (
	// DefaultRequestTimeout bounds a single provider call
	DefaultRequestTimeout = 10 * time.Second

	// DefaultExitTimeout bounds the best-effort exit from spectrum mode on Stop
	DefaultExitTimeout = 2 * time.Second
)

// Provider is the radio backend delivering spectrum rows. Spectrum mode is
// exclusive with audio playback, the provider arbitrates it.
type Provider interface {
	// RequestSpectrum returns one row for the given tuning parameters
	RequestSpectrum(ctx context.Context, centerMHz, spanMHz, integrationSec float64) (*spectrum.Row, error)

	// EnterSpectrumMode asks the backend to start spectrum acquisition and
	// reports whether the mode is active
	EnterSpectrumMode(ctx context.Context) (bool, error)

	// ExitSpectrumMode releases the backend
	ExitSpectrumMode(ctx context.Context) error
}

// WithLogger sets the logger for the loop
func WithLogger(logger *slog.Logger) func(l *Loop) {
	return func(l *Loop) {
		l.logger = logger.With(slog.String("component", "waterfall"))
	}
}

// WithRequestTimeout sets the timeout of a single provider call
func WithRequestTimeout(timeout time.Duration) func(l *Loop) {
	return func(l *Loop) {
		l.requestTimeout = timeout
	}
}

// WithExitTimeout sets the timeout of the exit from spectrum mode on Stop
func WithExitTimeout(timeout time.Duration) func(l *Loop) {
	return func(l *Loop) {
		l.exitTimeout = timeout
	}
}

// WithTickHook registers a function called after every tick with the row
// that was applied, or the error that prevented it
func WithTickHook(hook func(row *spectrum.Row, err error)) func(l *Loop) {
	return func(l *Loop) {
		l.tickHook = hook
	}
}

// Loop is the acquisition task. It issues at most one provider request at a
// time and feeds the results into the session.
type Loop struct {
	provider Provider
	session  *Session

	running    atomic.Bool
	exited     atomic.Bool // the worker returned because its context ended
	mu         sync.Mutex  // serializes Start and Stop
	cancel     context.CancelFunc
	done       chan struct{}
	reschedule chan time.Duration
	modeActive atomic.Bool

	requestTimeout time.Duration
	exitTimeout    time.Duration
	tickHook       func(row *spectrum.Row, err error)
	logger         *slog.Logger
}

// NewLoop creates a stopped loop with a discard logger
func NewLoop(provider Provider, session *Session, options ...func(l *Loop)) *Loop {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	l := Loop{
		provider:       provider,
		session:        session,
		reschedule:     make(chan time.Duration, 1),
		requestTimeout: DefaultRequestTimeout,
		exitTimeout:    DefaultExitTimeout,
		logger:         logger,
	}

	for _, option := range options {
		option(&l)
	}

	return &l
}

// Start begins acquisition. The first tick runs immediately. A loop whose
// context has ended can be started again; the previous run is released as
// Stop would.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		if !l.exited.Load() {
			return ErrAlreadyRunning
		}
		l.release()
	}

	l.running.Store(true)
	l.exited.Store(false)

	generation := l.session.begin()
	l.session.markWaiting(generation)
	l.modeActive.Store(false)

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	// drop a reschedule left over from a previous run
	select {
	case <-l.reschedule:
	default:
	}

	go l.run(ctx, generation)

	l.logger.Info("acquisition started")
	return nil
}

// Stop cancels acquisition, waits for the worker and asks the provider to
// leave spectrum mode. Stopping a stopped loop does nothing. Stop is also
// what releases spectrum mode after the context given to Start has ended.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running.Load() {
		return // already stopped
	}
	l.release()
}

// release stops the worker and leaves spectrum mode. Callers hold mu.
func (l *Loop) release() {
	l.cancel()
	<-l.done
	l.session.end()

	if l.modeActive.Swap(false) {
		ctx, cancel := context.WithTimeout(context.Background(), l.exitTimeout)
		defer cancel()

		if err := l.provider.ExitSpectrumMode(ctx); err != nil {
			l.logger.Warn("failed to exit spectrum mode", slog.String("error", err.Error()))
		}
	}

	l.running.Store(false)
	l.logger.Info("acquisition stopped")
}

// IsRunning returns true while the worker is acquiring. It turns false once
// the context given to Start ends, even before Stop is called.
func (l *Loop) IsRunning() bool {
	return l.running.Load() && !l.exited.Load()
}

// Reschedule replaces the tick interval of a running loop. History and
// range are untouched. It is a no-op on a stopped loop, which reads the
// interval from the session on Start.
func (l *Loop) Reschedule(interval time.Duration) {
	if !l.running.Load() {
		return
	}

	// keep only the most recent interval
	select {
	case <-l.reschedule:
	default:
	}
	select {
	case l.reschedule <- interval:
	default:
	}
}

func (l *Loop) run(ctx context.Context, generation uint64) {
	defer close(l.done)
	defer l.exited.Store(true)

	ticker := time.NewTicker(l.session.Settings().UpdateInterval)
	defer ticker.Stop()

	l.tick(ctx, generation)

	for {
		select {
		case <-ctx.Done():
			return

		case interval := <-l.reschedule:
			ticker.Reset(interval)
			l.logger.Debug("interval changed", slog.Duration("interval", interval))

		case <-ticker.C:
			l.tick(ctx, generation)
		}
	}
}

// tick performs one acquisition step. It never returns an error: every
// failure turns into WAITING and the loop carries on.
func (l *Loop) tick(ctx context.Context, generation uint64) {
	row, err := l.acquire(ctx)
	if ctx.Err() != nil {
		return // stopped while the request was outstanding
	}

	if err == nil {
		var applied bool
		if applied, err = l.session.ApplyRow(generation, row); err == nil && !applied {
			return // superseded by a newer start
		}
	}
	if err != nil {
		l.session.markWaiting(generation)
		l.logger.Debug("tick failed", slog.String("error", err.Error()))
		row = nil
	}

	if l.tickHook != nil {
		l.tickHook(row, err)
	}
}

func (l *Loop) acquire(ctx context.Context) (*spectrum.Row, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()

	if !l.modeActive.Load() {
		active, err := l.provider.EnterSpectrumMode(reqCtx)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ErrModeNotActive
		}

		l.modeActive.Store(true)
		l.logger.Info("spectrum mode active")
	}

	s := l.session.Settings()
	row, err := l.provider.RequestSpectrum(reqCtx, s.CenterFreqMHz, s.SpanMHz, s.IntegrationTime.Seconds())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: provider returned no row", spectrum.ErrMalformedRow)
	}
	return row, nil
}
