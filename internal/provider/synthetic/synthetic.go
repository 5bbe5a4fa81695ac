// Package synthetic provides a spectrum provider that computes rows from
// generated baseband samples: white Gaussian noise plus configurable
// carriers, transformed with an FFT.
package synthetic

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

const (
	// DefaultBins is the FFT size and therefore the number of bins per row
	DefaultBins = 512

	// DefaultNoiseFloorDB is the mean noise power per bin
	DefaultNoiseFloorDB = -100.0

	// frameDuration is the integration time covered by one FFT frame
	frameDuration = 50 * time.Millisecond
	maxFrames     = 32
)

// Carrier is a continuous tone in the band
type Carrier struct {
	FrequencyMHz float64 `yaml:"frequencyMHz" json:"frequencyMHz"`
	PowerDB      float64 `yaml:"powerDb" json:"powerDb"`
	DutyCycle    float64 `yaml:"dutyCycle" json:"dutyCycle"` // probability of being on in a row, 0 means always
}

// WithBins sets the FFT size. It is rounded up to a power of two.
func WithBins(bins int) func(p *Provider) {
	return func(p *Provider) {
		if bins > 1 {
			p.bins = 1 << int(math.Ceil(math.Log2(float64(bins))))
		}
	}
}

// WithNoiseFloor sets the mean noise power per bin in dB
func WithNoiseFloor(db float64) func(p *Provider) {
	return func(p *Provider) {
		p.noiseFloorDB = db
	}
}

// WithCarriers adds carriers to the generated band
func WithCarriers(carriers ...Carrier) func(p *Provider) {
	return func(p *Provider) {
		p.carriers = append(p.carriers, carriers...)
	}
}

// WithSeed makes the generated noise reproducible
func WithSeed(seed uint64) func(p *Provider) {
	return func(p *Provider) {
		p.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
}

// WithAckAfter makes EnterSpectrumMode report an inactive mode for the first
// n attempts, like a backend that is still releasing the tuner
func WithAckAfter(n int) func(p *Provider) {
	return func(p *Provider) {
		p.ackAfter = n
	}
}

// WithLogger sets the logger for the provider
func WithLogger(logger *slog.Logger) func(p *Provider) {
	return func(p *Provider) {
		p.logger = logger.With(slog.String("component", "synthetic"))
	}
}

// Provider generates rows on request
type Provider struct {
	bins         int
	noiseFloorDB float64
	carriers     []Carrier
	ackAfter     int
	logger       *slog.Logger

	mu       sync.Mutex
	src      rand.Source
	fft      *fourier.CmplxFFT
	window   []float64
	attempts int
	active   bool
}

// New creates a provider with a random seed
func New(options ...func(p *Provider)) *Provider {
	p := Provider{
		bins:         DefaultBins,
		noiseFloorDB: DefaultNoiseFloorDB,
		src:          rand.NewPCG(rand.Uint64(), rand.Uint64()),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&p)
	}

	p.fft = fourier.NewCmplxFFT(p.bins)
	p.window = hann(p.bins)
	return &p
}

// EnterSpectrumMode acknowledges the mode, possibly after a few attempts
func (p *Provider) EnterSpectrumMode(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	p.active = p.attempts > p.ackAfter
	return p.active, nil
}

// ExitSpectrumMode resets the acknowledgement counter
func (p *Provider) ExitSpectrumMode(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = 0
	p.active = false
	return nil
}

// RequestSpectrum generates one row for the band. The sample rate equals the
// span, so every FFT bin is span/bins wide. Longer integration averages more
// frames and lowers the noise variance.
func (p *Provider) RequestSpectrum(ctx context.Context, centerMHz, spanMHz, integrationSec float64) (*spectrum.Row, error) {
	if spanMHz <= 0 || math.IsNaN(spanMHz) {
		return nil, fmt.Errorf("invalid span: %f MHz", spanMHz)
	}

	frames := int(math.Round(integrationSec * float64(time.Second) / float64(frameDuration)))
	frames = min(max(frames, 1), maxFrames)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return nil, fmt.Errorf("spectrum mode is not active")
	}

	center := centerMHz * 1e6
	span := spanMHz * 1e6

	tones := p.activeTones(center, span)

	power := make([]float64, p.bins)
	samples := make([]complex128, p.bins)
	for range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.generate(samples, tones)
		coeffs := p.fft.Coefficients(nil, samples)
		for i, c := range coeffs {
			power[i] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	values := make([]float64, p.bins)
	half := p.bins / 2
	for i := range values {
		// shift zero frequency to the middle
		mag2 := power[(i+half)%p.bins] / float64(frames)
		values[i] = 10 * math.Log10(1e-20+mag2)
	}

	return spectrum.NewRow(time.Now(), center-span/2, center+span/2, values), nil
}

// tone is a carrier expressed as a normalized frequency and amplitude
type tone struct {
	cyclesPerSample float64
	amplitude       float64
}

// activeTones must be called with mu held
func (p *Provider) activeTones(center, span float64) []tone {
	var tones []tone
	for _, c := range p.carriers {
		offset := c.FrequencyMHz*1e6 - center
		if math.Abs(offset) >= span/2 {
			continue
		}
		if c.DutyCycle > 0 && c.DutyCycle < 1 {
			on := distuv.Bernoulli{P: c.DutyCycle, Src: p.src}
			if on.Rand() == 0 {
				continue
			}
		}
		tones = append(tones, tone{
			cyclesPerSample: offset / span,
			amplitude:       math.Pow(10, c.PowerDB/20),
		})
	}
	return tones
}

// generate fills samples with windowed noise and tones. The window is
// normalized so a tone of amplitude A shows as A² in its bin and the mean
// noise power per bin equals the noise floor.
func (p *Provider) generate(samples []complex128, tones []tone) {
	n := len(samples)

	var sum, sumSq float64
	for _, w := range p.window {
		sum += w
		sumSq += w * w
	}

	// per component deviation giving the requested floor after windowing
	noisePower := math.Pow(10, p.noiseFloorDB/10) * sum * sum / sumSq
	noise := distuv.Normal{Mu: 0, Sigma: math.Sqrt(noisePower / 2), Src: p.src}

	phase := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: p.src}
	phases := make([]float64, len(tones))
	for i := range phases {
		phases[i] = phase.Rand()
	}

	for i := range n {
		s := complex(noise.Rand(), noise.Rand())
		for j, t := range tones {
			s += complex(t.amplitude, 0) * cmplx.Exp(complex(0, 2*math.Pi*t.cyclesPerSample*float64(i)+phases[j]))
		}
		samples[i] = s * complex(p.window[i]/sum, 0)
	}
}

func hann(n int) []float64 {
	window := make([]float64, n)
	for i := range window {
		x := math.Sin(math.Pi * float64(i) / float64(n))
		window[i] = x * x
	}
	return window
}
