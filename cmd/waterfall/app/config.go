package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-waterfall/internal/provider/synthetic"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/hackrf"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/rtl"
	"github.com/roman-kulish/radio-waterfall/internal/server"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const (
	ProviderSynthetic ProviderType = "synthetic"
	ProviderHTTPAPI   ProviderType = "httpapi"
	ProviderRTLSDR    ProviderType = "rtl-sdr"
	ProviderHackRF    ProviderType = "hackrf"
	ProviderReplay    ProviderType = "replay"

	defaultListen       = ":8080"
	defaultDataDir      = "data"
	defaultFavorites    = "favorites.yaml"
	defaultImageWidth   = 1024
	defaultImageHeight  = 512
	defaultHTTPTimeout  = 5 * time.Second
	defaultLogLevel     = "info"
	defaultProviderType = ProviderSynthetic
)

// ProviderType selects the radio backend
type ProviderType string

// Duration is a time.Duration written as a Go duration string ("500ms") in
// configuration files
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Waterfall WaterfallConfig `yaml:"waterfall"`
	Render    RenderConfig    `yaml:"render"`
	Provider  ProviderConfig  `yaml:"provider"`
	Storage   StorageConfig   `yaml:"storage"`
	Presets   *server.Presets `yaml:"presets"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	Listen   string `yaml:"listen"`
	Metrics  bool   `yaml:"metrics"`
	AutoRun  bool   `yaml:"autoRun"` // start acquisition without waiting for POST /start
}

// WaterfallConfig holds the initial waterfall settings
type WaterfallConfig struct {
	UpdateInterval  Duration `yaml:"updateInterval"`
	IntegrationTime Duration `yaml:"integrationTime"`
	MaxRows         int      `yaml:"maxRows"`
	DBSmoothing     *float64 `yaml:"dbSmoothing"`
	DBMargin        *float64 `yaml:"dbMargin"`
	MinRangeDB      float64  `yaml:"minRangeDb"`
	SpanMHz         float64  `yaml:"spanMHz"`
	CenterFreqMHz   float64  `yaml:"centerFreqMHz"`
	RequestTimeout  Duration `yaml:"requestTimeout"`
}

// RenderConfig holds the raster options
type RenderConfig struct {
	Theme         string  `yaml:"theme"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	GridDivisions int     `yaml:"gridDivisions"`
	FontSize      float64 `yaml:"fontSize"`
	NoAnnotations bool    `yaml:"noAnnotations"`
}

// ProviderConfig selects and configures the radio backend
type ProviderConfig struct {
	Type      ProviderType    `yaml:"type"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	HTTPAPI   HTTPAPIConfig   `yaml:"httpapi"`
	SDR       SDRConfig       `yaml:"sdr"`
	Replay    ReplayConfig    `yaml:"replay"`
}

// SyntheticConfig configures the generated spectrum
type SyntheticConfig struct {
	Bins       int                 `yaml:"bins"`
	NoiseFloor *float64            `yaml:"noiseFloor"`
	Seed       uint64              `yaml:"seed"`
	Carriers   []synthetic.Carrier `yaml:"carriers"`
}

// HTTPAPIConfig points at the radio backend REST API
type HTTPAPIConfig struct {
	BaseURL string   `yaml:"baseURL"`
	Timeout Duration `yaml:"timeout"`
}

// SDRConfig configures a local sweep tool. Only the section matching the
// provider type is used.
type SDRConfig struct {
	Name   string         `yaml:"name"` // device ID recorded with sessions
	Bins   int            `yaml:"bins"`
	RTL    *rtl.Config    `yaml:"rtl"`
	HackRF *hackrf.Config `yaml:"hackrf"`
	Serial string         `yaml:"serialNumber"` // HackRF only
}

// ReplayConfig points at a recorded session
type ReplayConfig struct {
	Database  string `yaml:"database"`
	SessionID int64  `yaml:"sessionID"`
	FullBand  bool   `yaml:"fullBand"`
}

// StorageConfig represents storage settings. Recording is supported for the
// sweep tool providers.
type StorageConfig struct {
	Record        bool   `yaml:"record"`
	DataDirectory string `yaml:"dataDirectory"`
	Favorites     string `yaml:"favorites"` // defaults to favorites.yaml in the data directory
}

// NewConfig returns the configuration used when no file is given
func NewConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML configuration file, applies defaults for the
// omitted values and validates the result
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var c Config
	if err = yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	c.applyDefaults()
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	defaults := waterfall.DefaultSettings()

	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaultLogLevel
	}
	if c.Settings.Listen == "" {
		c.Settings.Listen = defaultListen
	}

	w := &c.Waterfall
	if w.UpdateInterval == 0 {
		w.UpdateInterval = Duration(defaults.UpdateInterval)
	}
	if w.IntegrationTime == 0 {
		w.IntegrationTime = Duration(defaults.IntegrationTime)
	}
	if w.MaxRows == 0 {
		w.MaxRows = defaults.MaxRows
	}
	if w.DBSmoothing == nil {
		w.DBSmoothing = &defaults.DBSmoothing
	}
	if w.DBMargin == nil {
		w.DBMargin = &defaults.DBMargin
	}
	if w.MinRangeDB == 0 {
		w.MinRangeDB = defaults.MinRangeDB
	}
	if w.SpanMHz == 0 {
		w.SpanMHz = defaults.SpanMHz
	}
	if w.CenterFreqMHz == 0 {
		w.CenterFreqMHz = defaults.CenterFreqMHz
	}
	if w.RequestTimeout == 0 {
		w.RequestTimeout = Duration(waterfall.DefaultRequestTimeout)
	}

	if c.Render.Theme == "" {
		c.Render.Theme = string(waterfall.ClassicTheme)
	}
	if c.Render.Width == 0 {
		c.Render.Width = defaultImageWidth
	}
	if c.Render.Height == 0 {
		c.Render.Height = defaultImageHeight
	}

	if c.Provider.Type == "" {
		c.Provider.Type = defaultProviderType
	}
	if c.Provider.HTTPAPI.Timeout == 0 {
		c.Provider.HTTPAPI.Timeout = Duration(defaultHTTPTimeout)
	}
	if c.Provider.SDR.RTL == nil {
		c.Provider.SDR.RTL = &rtl.Config{}
	}
	if c.Provider.SDR.HackRF == nil {
		c.Provider.SDR.HackRF = &hackrf.Config{}
	}

	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultDataDir
	}
	if c.Storage.Favorites == "" {
		c.Storage.Favorites = filepath.Join(c.Storage.DataDirectory, defaultFavorites)
	}
}

// WaterfallSettings converts the waterfall section
func (c *Config) WaterfallSettings() waterfall.Settings {
	w := c.Waterfall
	return waterfall.Settings{
		UpdateInterval:  time.Duration(w.UpdateInterval),
		IntegrationTime: time.Duration(w.IntegrationTime),
		MaxRows:         w.MaxRows,
		DBSmoothing:     *w.DBSmoothing,
		DBMargin:        *w.DBMargin,
		MinRangeDB:      w.MinRangeDB,
		SpanMHz:         w.SpanMHz,
		CenterFreqMHz:   w.CenterFreqMHz,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := c.WaterfallSettings().Validate(); err != nil {
		return fmt.Errorf("waterfall: %w", err)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render: image size must be positive: %dx%d", c.Render.Width, c.Render.Height)
	}
	if !waterfall.ValidTheme(waterfall.ColorTheme(c.Render.Theme)) {
		return fmt.Errorf("render: unknown color theme: %s", c.Render.Theme)
	}

	p := c.Provider
	switch p.Type {
	case ProviderSynthetic:
	case ProviderHTTPAPI:
		if p.HTTPAPI.BaseURL == "" {
			return errors.New("provider.httpapi: baseURL is required")
		}
	case ProviderRTLSDR:
		if err := p.SDR.RTL.Validate(); err != nil {
			return fmt.Errorf("provider.sdr.rtl: %w", err)
		}
	case ProviderHackRF:
		if err := p.SDR.HackRF.Validate(); err != nil {
			return fmt.Errorf("provider.sdr.hackrf: %w", err)
		}
	case ProviderReplay:
		if p.Replay.Database == "" {
			return errors.New("provider.replay: database is required")
		}
		if p.Replay.SessionID <= 0 {
			return errors.New("provider.replay: sessionID is required")
		}
	default:
		return fmt.Errorf("provider: unknown type '%s'", p.Type)
	}

	if c.Storage.Record && p.Type != ProviderRTLSDR && p.Type != ProviderHackRF {
		return fmt.Errorf("storage: recording is not supported for the %s provider", p.Type)
	}
	return nil
}
