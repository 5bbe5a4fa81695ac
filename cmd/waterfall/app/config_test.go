package app

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/server"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
  listen: ":9090"
  metrics: true
waterfall:
  updateInterval: 250ms
  integrationTime: 1s
  maxRows: 300
  dbSmoothing: 0
  centerFreqMHz: 118.5
  spanMHz: 1.2
render:
  theme: thermal
provider:
  type: rtl-sdr
  sdr:
    name: roof
    bins: 256
    rtl:
      deviceIndex: 1
      gain: 30
      windowFunction: hamming
presets:
  fm:
    - {freq: 100.1, label: Local, mode: FM}
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.Settings.Listen != ":9090" || !config.Settings.Metrics {
		t.Errorf("Settings = %+v", config.Settings)
	}

	s := config.WaterfallSettings()
	if s.UpdateInterval != 250*time.Millisecond {
		t.Errorf("UpdateInterval = %s, want 250ms", s.UpdateInterval)
	}
	if s.IntegrationTime != time.Second {
		t.Errorf("IntegrationTime = %s, want 1s", s.IntegrationTime)
	}
	if s.MaxRows != 300 {
		t.Errorf("MaxRows = %d, want 300", s.MaxRows)
	}
	if s.DBSmoothing != 0 {
		t.Errorf("DBSmoothing = %f, want an explicit 0 to be kept", s.DBSmoothing)
	}

	defaults := waterfall.DefaultSettings()
	if s.DBMargin != defaults.DBMargin {
		t.Errorf("DBMargin = %f, want default %f", s.DBMargin, defaults.DBMargin)
	}
	if s.MinRangeDB != defaults.MinRangeDB {
		t.Errorf("MinRangeDB = %f, want default %f", s.MinRangeDB, defaults.MinRangeDB)
	}

	if config.Provider.Type != ProviderRTLSDR {
		t.Errorf("Provider.Type = %s", config.Provider.Type)
	}
	if rtl := config.Provider.SDR.RTL; rtl.DeviceIndex != 1 || rtl.Gain != 30 {
		t.Errorf("Provider.SDR.RTL = %+v", rtl)
	}
	if config.Presets == nil || len(config.Presets.FM) != 1 || config.Presets.FM[0].Frequency != 100.1 {
		t.Errorf("Presets = %+v", config.Presets)
	}
	if config.Render.Width != defaultImageWidth {
		t.Errorf("Render.Width = %d, want default %d", config.Render.Width, defaultImageWidth)
	}
}

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if config.Provider.Type != ProviderSynthetic {
		t.Errorf("Provider.Type = %s, want %s", config.Provider.Type, ProviderSynthetic)
	}
	if got, want := config.WaterfallSettings(), waterfall.DefaultSettings(); got != want {
		t.Errorf("WaterfallSettings() = %+v, want %+v", got, want)
	}
	if want := filepath.Join("data", "favorites.yaml"); config.Storage.Favorites != want {
		t.Errorf("Storage.Favorites = %s, want %s", config.Storage.Favorites, want)
	}
}

func TestCreateProvider_GainControl(t *testing.T) {
	tests := []struct {
		provider ProviderType
		gains    bool
	}{
		{ProviderRTLSDR, true},
		{ProviderHackRF, false},
	}

	for _, tt := range tests {
		config := NewConfig()
		config.Provider.Type = tt.provider

		p, err := createProvider(&Components{}, &config.Provider, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			t.Fatalf("%s: createProvider() error = %v", tt.provider, err)
		}

		gain, ok := p.(server.GainControl)
		if !ok {
			t.Fatalf("%s: expected a gain control", tt.provider)
		}
		if got := len(gain.Gains()) > 0; got != tt.gains {
			t.Errorf("%s: gain steps = %v", tt.provider, gain.Gains())
		}
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "interval below minimum",
			content: "waterfall:\n  updateInterval: 10ms\n",
			want:    "updateInterval",
		},
		{
			name:    "bad duration",
			content: "waterfall:\n  updateInterval: soon\n",
			want:    "failed to parse",
		},
		{
			name:    "unknown provider",
			content: "provider:\n  type: tape\n",
			want:    "unknown type",
		},
		{
			name:    "httpapi without url",
			content: "provider:\n  type: httpapi\n",
			want:    "baseURL",
		},
		{
			name:    "replay without session",
			content: "provider:\n  type: replay\n  replay:\n    database: x.sqlite\n",
			want:    "sessionID",
		},
		{
			name:    "recording synthetic rows",
			content: "storage:\n  record: true\n",
			want:    "recording is not supported",
		},
		{
			name:    "unknown theme",
			content: "render:\n  theme: neon\n",
			want:    "theme",
		},
		{
			name:    "rtl window",
			content: "provider:\n  type: rtl-sdr\n  sdr:\n    rtl:\n      windowFunction: square\n",
			want:    "window function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_InvalidSettingIsConfigError(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "waterfall:\n  maxRows: -3\n"))
	if !errors.Is(err, waterfall.ErrInvalidConfig) {
		t.Errorf("error = %v, want it to wrap ErrInvalidConfig", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error")
	}
}
