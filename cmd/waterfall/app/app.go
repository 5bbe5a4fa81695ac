package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/provider/httpapi"
	"github.com/roman-kulish/radio-waterfall/internal/provider/replay"
	"github.com/roman-kulish/radio-waterfall/internal/provider/synthetic"
	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/hackrf"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/rtl"
	"github.com/roman-kulish/radio-waterfall/internal/server"
	"github.com/roman-kulish/radio-waterfall/internal/storage"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

// Components is everything a front end needs to drive the waterfall
type Components struct {
	Viewer   *waterfall.Viewer
	Session  *waterfall.Session
	Metrics  *server.Metrics
	Provider waterfall.Provider

	closers []func() error
}

// Close releases the provider and storage resources
func (c *Components) Close() error {
	c.Viewer.Deactivate()

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires the provider, the session, the renderer and the viewer
// described by config
func Build(config *Config, logger *slog.Logger) (*Components, error) {
	c := &Components{}

	steps := []struct {
		msg string
		fn  func() error
	}{
		{msg: "creating provider", fn: func() (err error) {
			c.Provider, err = createProvider(c, &config.Provider, logger)
			return err
		}},
		{msg: "creating session", fn: func() (err error) {
			c.Session, err = waterfall.NewSession(config.WaterfallSettings())
			return err
		}},
		{msg: "creating viewer", fn: func() error {
			renderer, err := waterfall.NewRenderer(waterfall.RenderConfig{
				Theme:         waterfall.ColorTheme(config.Render.Theme),
				GridDivisions: config.Render.GridDivisions,
				FontSize:      config.Render.FontSize,
				NoAnnotations: config.Render.NoAnnotations,
			})
			if err != nil {
				return err
			}

			options := []func(l *waterfall.Loop){
				waterfall.WithLogger(logger),
				waterfall.WithRequestTimeout(time.Duration(config.Waterfall.RequestTimeout)),
			}
			if config.Settings.Metrics {
				c.Metrics = server.NewMetrics(c.Session)
				options = append(options, waterfall.WithTickHook(c.Metrics.ObserveTick))
			}

			c.Viewer = waterfall.NewViewer(c.Session, c.Provider, renderer, options...)
			return nil
		}},
	}

	for _, s := range steps {
		if err := s.fn(); err != nil {
			for i := len(c.closers) - 1; i >= 0; i-- {
				_ = c.closers[i]()
			}
			return nil, fmt.Errorf("%s: %w", s.msg, err)
		}
	}

	return c, nil
}

// Run serves the waterfall over HTTP until ctx is done
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	c, err := Build(config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := c.Close(); cErr != nil {
			logger.Warn(fmt.Sprintf("closing: %s", cErr.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if config.Storage.Record {
		done, err := startRecording(ctx, c, config, logger)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			<-done
		}()
	}

	favorites, err := server.LoadFavorites(config.Storage.Favorites)
	if err != nil {
		return err
	}

	options := []func(s *server.Server){
		server.WithLogger(logger),
		server.WithImageSize(config.Render.Width, config.Render.Height),
		server.WithFavorites(favorites),
	}
	if gain, ok := c.Provider.(server.GainControl); ok {
		options = append(options, server.WithGainControl(gain))
	}
	if config.Presets != nil {
		options = append(options, server.WithPresets(*config.Presets))
	}
	if c.Metrics != nil {
		options = append(options, server.WithMetrics(c.Metrics))
	}
	srv := server.New(c.Viewer, options...)

	if config.Settings.AutoRun {
		if err = c.Viewer.Activate(ctx); err != nil {
			return fmt.Errorf("starting acquisition: %w", err)
		}
	}

	return srv.ListenAndServe(ctx, config.Settings.Listen)
}

func createProvider(c *Components, config *ProviderConfig, logger *slog.Logger) (waterfall.Provider, error) {
	switch config.Type {
	case ProviderSynthetic:
		options := []func(p *synthetic.Provider){
			synthetic.WithLogger(logger),
			synthetic.WithCarriers(config.Synthetic.Carriers...),
		}
		if config.Synthetic.Bins > 0 {
			options = append(options, synthetic.WithBins(config.Synthetic.Bins))
		}
		if config.Synthetic.NoiseFloor != nil {
			options = append(options, synthetic.WithNoiseFloor(*config.Synthetic.NoiseFloor))
		}
		if config.Synthetic.Seed != 0 {
			options = append(options, synthetic.WithSeed(config.Synthetic.Seed))
		}
		return synthetic.New(options...), nil

	case ProviderHTTPAPI:
		return httpapi.New(config.HTTPAPI.BaseURL,
			httpapi.WithTimeout(time.Duration(config.HTTPAPI.Timeout)),
			httpapi.WithLogger(logger))

	case ProviderRTLSDR:
		return sdr.NewProvider(rtl.Runtime, rtl.New(config.SDR.RTL), sdrOptions(config, logger)...), nil

	case ProviderHackRF:
		return sdr.NewProvider(hackrf.Runtime, hackrf.New(config.SDR.HackRF, config.SDR.Serial), sdrOptions(config, logger)...), nil

	case ProviderReplay:
		if _, err := os.Stat(config.Replay.Database); err != nil && os.IsNotExist(err) {
			return nil, fmt.Errorf("database file '%s' does not exist: %w", config.Replay.Database, err)
		}

		store := storage.NewSqliteStore(config.Replay.Database)
		c.closers = append(c.closers, store.Close)

		options := []func(p *replay.Provider){replay.WithLogger(logger)}
		if config.Replay.FullBand {
			options = append(options, replay.WithFullBand())
		}
		p := replay.New(store, config.Replay.SessionID, options...)
		c.closers = append(c.closers, p.Close)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown provider type '%s'", config.Type)
	}
}

func sdrOptions(config *ProviderConfig, logger *slog.Logger) []func(p *sdr.Provider) {
	deviceID := config.SDR.Name
	if deviceID == "" && config.Type == ProviderHackRF {
		deviceID = config.SDR.Serial
	}
	if deviceID == "" && config.Type == ProviderRTLSDR {
		deviceID = fmt.Sprintf("%d", config.SDR.RTL.DeviceIndex)
	}

	options := []func(p *sdr.Provider){
		sdr.WithBins(config.SDR.Bins),
		sdr.WithDeviceID(deviceID),
		sdr.WithProviderLogger(logger),
	}
	// hackrf_sweep splits its gain between two amplifiers set in the config
	if config.Type == ProviderRTLSDR {
		options = append(options, sdr.WithGains(rtl.Gains...))
	}
	return options
}

func startRecording(ctx context.Context, c *Components, config *Config, logger *slog.Logger) (<-chan struct{}, error) {
	store, err := createStorage(&config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	c.closers = append(c.closers, store.Close)

	var deviceType string
	var deviceConfig any
	switch config.Provider.Type {
	case ProviderRTLSDR:
		deviceType, deviceConfig = rtl.Device, config.Provider.SDR.RTL
	case ProviderHackRF:
		deviceType, deviceConfig = hackrf.Device, config.Provider.SDR.HackRF
	}

	deviceID := config.Provider.SDR.Name
	if deviceID == "" {
		deviceID = string(config.Provider.Type)
	}

	recorder := NewRecorder(store, deviceType, deviceID, deviceConfig, WithRecorderLogger(logger))
	_, done, err := recorder.Run(ctx, c.Viewer)
	if err != nil {
		return nil, err
	}
	return done, nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dbPath := config.DataDirectory
	if !filepath.IsAbs(dbPath) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dbPath = filepath.Join(wd, dbPath)
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("sdr_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
