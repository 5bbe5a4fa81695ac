// Package httpapi provides a spectrum provider backed by the radio backend's
// REST API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
)

const (
	spectrumPath = "/api/radio/spectrum"
	startPath    = "/api/radio/spectrum/start"
	stopPath     = "/api/radio/spectrum/stop"

	// DefaultTimeout bounds a single call when the context carries no deadline
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// ErrUnexpectedStatus is returned for non-2xx responses
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPClient is the subset of *http.Client used by the provider
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WithHTTPClient replaces the default client
func WithHTTPClient(c HTTPClient) func(p *Provider) {
	return func(p *Provider) {
		p.client = c
	}
}

// WithTimeout sets the per request timeout
func WithTimeout(timeout time.Duration) func(p *Provider) {
	return func(p *Provider) {
		p.timeout = timeout
	}
}

// WithLogger sets the logger for the provider
func WithLogger(logger *slog.Logger) func(p *Provider) {
	return func(p *Provider) {
		p.logger = logger.With(slog.String("component", "httpapi"))
	}
}

// spectrumResponse is the body of GET /api/radio/spectrum
type spectrumResponse struct {
	Values     []*float64 `json:"values"` // null for a bin the backend could not read
	StartFreq  float64    `json:"start_freq"`
	EndFreq    float64    `json:"end_freq"`
	CenterFreq float64    `json:"center_freq"`
	Timestamp  *float64   `json:"timestamp,omitempty"` // unix seconds
}

// readings converts the bins to dB values. Missing bins take the nearest
// reading; false means no bin was read at all.
func (r *spectrumResponse) readings() ([]float64, bool) {
	values := make([]float64, len(r.Values))
	for i, v := range r.Values {
		if v == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *v
	}
	return values, len(values) == 0 || spectrum.FillMissing(values)
}

// modeResponse is the body of POST /api/radio/spectrum/start
type modeResponse struct {
	Active bool   `json:"active"`
	Error  string `json:"error,omitempty"`
}

// Provider requests spectrum rows from the radio backend
type Provider struct {
	baseURL string
	client  HTTPClient
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a provider for the backend at baseURL
func New(baseURL string, options ...func(p *Provider)) (*Provider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	p := Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&p)
	}

	return &p, nil
}

// RequestSpectrum fetches one row. Frequencies in the response are Hz.
func (p *Provider) RequestSpectrum(ctx context.Context, centerMHz, spanMHz, integrationSec float64) (*spectrum.Row, error) {
	query := url.Values{}
	query.Set("center", strconv.FormatFloat(centerMHz, 'f', -1, 64))
	query.Set("span", strconv.FormatFloat(spanMHz, 'f', -1, 64))
	query.Set("integration", strconv.FormatFloat(integrationSec, 'f', -1, 64))

	var body spectrumResponse
	if err := p.call(ctx, http.MethodGet, spectrumPath+"?"+query.Encode(), &body); err != nil {
		return nil, err
	}

	ts := time.Now()
	if body.Timestamp != nil {
		sec := *body.Timestamp
		ts = time.Unix(0, int64(sec*float64(time.Second)))
	}

	start, end := body.StartFreq, body.EndFreq
	if start == 0 && end == 0 {
		// older backends only report the center
		center := body.CenterFreq
		if center == 0 {
			center = centerMHz * 1e6
		}
		start = center - spanMHz*1e6/2
		end = center + spanMHz*1e6/2
	}

	values, ok := body.readings()
	if !ok {
		return nil, fmt.Errorf("%w: every bin is null", spectrum.ErrMalformedRow)
	}

	row := spectrum.NewRow(ts, start, end, values)
	if err := row.Validate(); err != nil {
		return nil, err
	}
	return row, nil
}

// EnterSpectrumMode asks the backend to switch to spectrum acquisition
func (p *Provider) EnterSpectrumMode(ctx context.Context) (bool, error) {
	var body modeResponse
	if err := p.call(ctx, http.MethodPost, startPath, &body); err != nil {
		return false, err
	}
	if body.Error != "" {
		p.logger.Warn("backend refused spectrum mode", slog.String("error", body.Error))
	}
	return body.Active, nil
}

// ExitSpectrumMode releases the backend
func (p *Provider) ExitSpectrumMode(ctx context.Context) error {
	return p.call(ctx, http.MethodPost, stopPath, nil)
}

func (p *Provider) call(ctx context.Context, method, path string, out any) error {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w %d from %s %s: %s", ErrUnexpectedStatus, resp.StatusCode, method, path, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
