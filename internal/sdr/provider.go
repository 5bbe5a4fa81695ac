package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

const (
	// DefaultBins is the number of bins requested from the tool per pass
	DefaultBins = 512

	sweepsBuffer = 64

	// gainTolerance absorbs the rounding of gains given in tenths of a dB
	gainTolerance = 0.05
)

var (
	// ErrNotInSpectrumMode is returned by RequestSpectrum before EnterSpectrumMode
	ErrNotInSpectrumMode = errors.New("spectrum mode is not active")

	// ErrDeviceStopped is returned when the sweep tool exits on its own
	ErrDeviceStopped = errors.New("device stopped")

	// ErrGainUnsupported is returned by SetGain when no gain steps are known
	ErrGainUnsupported = errors.New("gain control is not supported")

	// ErrInvalidGain is returned by SetGain for a gain the tuner does not have
	ErrInvalidGain = errors.New("invalid gain")
)

// WithBins sets the number of bins per pass
func WithBins(bins int) func(p *Provider) {
	return func(p *Provider) {
		if bins > 0 {
			p.bins = bins
		}
	}
}

// WithDeviceID sets the device serial number or index reported with sweeps
func WithDeviceID(deviceID string) func(p *Provider) {
	return func(p *Provider) {
		p.deviceID = deviceID
	}
}

// WithGains sets the gain steps of the tuner in dB, which enables SetGain
func WithGains(gains ...float64) func(p *Provider) {
	return func(p *Provider) {
		p.gains = slices.Sorted(slices.Values(gains))
	}
}

// WithProviderLogger sets the logger for the provider and its devices
func WithProviderLogger(logger *slog.Logger) func(p *Provider) {
	return func(p *Provider) {
		p.logger = logger.With(slog.String("component", "sdr"))
	}
}

// Provider streams rows from a local sweep tool. The tool keeps running
// between requests; a request returns the latest completed pass, and a
// change of tuning restarts the tool.
type Provider struct {
	runtime  string
	factory  HandlerFactory
	bins     int
	deviceID string
	gains    []float64
	logger   *slog.Logger

	mu      sync.Mutex
	active  bool
	gain    Gain
	tuning  Tuning
	device  *Device
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	rows    chan *spectrum.Row
	stopped chan error
}

// NewProvider creates a provider running the tool named runtime through
// handlers made by factory
func NewProvider(runtime string, factory HandlerFactory, options ...func(p *Provider)) *Provider {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	p := Provider{
		runtime: runtime,
		factory: factory,
		bins:    DefaultBins,
		logger:  logger,
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// EnterSpectrumMode checks that the tool is installed. The tool itself is
// started by the first request, once the tuning is known.
func (p *Provider) EnterSpectrumMode(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return true, nil
	}

	if _, err := FindRuntime(p.runtime); err != nil {
		return false, err
	}

	p.active = true
	p.logger.Info("spectrum mode entered", slog.String("runtime", p.runtime))
	return true, nil
}

// ExitSpectrumMode stops the tool
func (p *Provider) ExitSpectrumMode(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopDevice()
	p.active = false
	p.logger.Info("spectrum mode exited")
	return nil
}

// RequestSpectrum waits for the next completed pass of the requested band.
// A restart caused by SetGain is waited out.
func (p *Provider) RequestSpectrum(ctx context.Context, centerMHz, spanMHz, integrationSec float64) (*spectrum.Row, error) {
	for {
		rows, stopped, err := p.ensureDevice(ctx, TuningFor(centerMHz, spanMHz, integrationSec, p.bins))
		if err != nil {
			return nil, err
		}

		select {
		case row := <-rows:
			return row, nil

		case err, ok := <-stopped:
			if !ok {
				continue // stopped by the provider
			}

			p.mu.Lock()
			if p.stopped == stopped {
				p.stopDevice()
			}
			p.mu.Unlock()

			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDeviceStopped, err)
			}
			return nil, ErrDeviceStopped

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Gains returns the gain steps accepted by SetGain, lowest first
func (p *Provider) Gains() []float64 {
	return slices.Clone(p.gains)
}

// Gain returns the current gain override
func (p *Provider) Gain() Gain {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

// SetGain overrides the configured gain and restarts the tool with it. A
// manual gain must be one of the steps given with WithGains.
func (p *Provider) SetGain(g Gain) error {
	if len(p.gains) == 0 {
		return ErrGainUnsupported
	}
	if g.Auto {
		g.DB = 0
	} else {
		i := slices.IndexFunc(p.gains, func(v float64) bool { return math.Abs(v-g.DB) < gainTolerance })
		if i < 0 {
			return fmt.Errorf("%w: %.1f dB", ErrInvalidGain, g.DB)
		}
		g.DB = p.gains[i]
	}
	g.Override = true

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gain == g {
		return nil
	}
	p.gain = g
	p.stopDevice()

	p.logger.Info("gain changed", slog.Bool("auto", g.Auto), slog.Float64("gain", g.DB))
	return nil
}

func (p *Provider) ensureDevice(ctx context.Context, t Tuning) (<-chan *spectrum.Row, <-chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return nil, nil, ErrNotInSpectrumMode
	}

	t.Gain = p.gain
	if p.device != nil && p.tuning == t {
		return p.rows, p.stopped, nil
	}

	p.stopDevice()

	handler, err := p.factory(t)
	if err != nil {
		return nil, nil, fmt.Errorf("creating handler: %w", err)
	}

	device := NewDevice(p.deviceID, handler, WithLogger(p.logger))

	// the device outlives the request that started it
	devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sweeps := make(chan *Sweep, sweepsBuffer)

	samplingStopped, err := device.BeginSampling(devCtx, sweeps)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("starting device: %w", err)
	}

	p.device = device
	p.tuning = t
	p.cancel = cancel
	p.rows = make(chan *spectrum.Row, 1)
	p.stopped = make(chan error, 1)

	p.wg.Add(1)
	go p.forward(devCtx, t, sweeps, samplingStopped, p.rows, p.stopped)

	p.logger.Info("device started",
		slog.Int64("frequencyStart", t.FrequencyStart),
		slog.Int64("frequencyEnd", t.FrequencyEnd),
		slog.Int64("binWidth", t.BinWidth))

	return p.rows, p.stopped, nil
}

// forward assembles chunks into rows cropped to the tuned band, keeping only
// the latest row
func (p *Provider) forward(ctx context.Context, t Tuning, sweeps <-chan *Sweep, samplingStopped <-chan error, rows chan *spectrum.Row, stopped chan<- error) {
	defer p.wg.Done()

	assembler := NewSweepAssembler()
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-samplingStopped:
			stopped <- err
			return

		case sweep := <-sweeps:
			row, err := assembler.Insert(sweep)
			if err != nil {
				p.logger.Warn("dropping chunk", slog.String("error", err.Error()))
				continue
			}
			if row == nil {
				continue
			}

			row = row.Crop(float64(t.FrequencyStart), float64(t.FrequencyEnd))

			select {
			case <-rows:
			default:
			}
			rows <- row
		}
	}
}

// stopDevice must be called with mu held. Requests still waiting on the
// stopped device see its stopped channel closed.
func (p *Provider) stopDevice() {
	if p.device == nil {
		return
	}

	p.cancel()
	p.device.Stop()
	p.wg.Wait()
	close(p.stopped)

	p.device = nil
	p.cancel = nil
	p.rows = nil
	p.stopped = nil
	p.tuning = Tuning{}
}
