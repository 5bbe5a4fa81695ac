package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radio-waterfall/internal/provider/replay"
	"github.com/roman-kulish/radio-waterfall/internal/storage"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

// smoothing of the range estimator over a whole recording
const snapshotSmoothing = 0.3

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	img, err := Render(ctx, store, config, logger)
	if err != nil {
		return err
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = encode(out, config.Format, img); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", config.OutputFile, err)
	}
	return out.Close()
}

// Render plays a recorded session back through a waterfall session and draws
// the result
func Render(ctx context.Context, store replay.Store, config *Config, logger *slog.Logger) (*image.RGBA, error) {
	options := []func(p *replay.Provider){replay.WithoutLoop(), replay.WithLogger(logger)}

	var centerMHz, spanMHz float64
	if config.MinFrequency != nil {
		centerMHz = (*config.MinFrequency + *config.MaxFrequency) / 2
		spanMHz = *config.MaxFrequency - *config.MinFrequency
		logger.Info("band filter",
			slog.String("minFreq", humanize.SIWithDigits(*config.MinFrequency*1e6, 3, "Hz")),
			slog.String("maxFreq", humanize.SIWithDigits(*config.MaxFrequency*1e6, 3, "Hz")))
	} else {
		options = append(options, replay.WithFullBand())
	}

	provider := replay.New(store, config.SessionID, options...)
	defer provider.Close()

	if _, err := provider.EnterSpectrumMode(ctx); err != nil {
		return nil, err
	}

	settings := waterfall.DefaultSettings()
	settings.MaxRows = config.MaxRows
	settings.DBSmoothing = snapshotSmoothing

	session, err := waterfall.NewSession(settings)
	if err != nil {
		return nil, err
	}

	logger.Info("reading rows, hold on tight, it will take a while")

	var st stats
	for {
		row, err := provider.RequestSpectrum(ctx, centerMHz, spanMHz, 0)
		if errors.Is(err, storage.ErrNoData) {
			break
		}
		if err != nil {
			return nil, err
		}

		if err = session.Append(row); err != nil {
			logger.Debug("row skipped", slog.String("error", err.Error()))
			continue
		}
		st.add(row.Timestamp, row.FrequencyStart, row.FrequencyEnd, row.Bins())
	}
	if st.rows == 0 {
		return nil, fmt.Errorf("session %d: %w", config.SessionID, storage.ErrNoData)
	}

	frame := session.Frame()
	frame.MaxRows = len(frame.Rows) // fill the canvas
	frame.CenterFreqMHz = (st.freqMin + st.freqMax) / 2 / 1e6
	frame.SpanMHz = (st.freqMax - st.freqMin) / 1e6
	if config.MinPower != nil {
		frame.Range.Min = *config.MinPower
	}
	if config.MaxPower != nil {
		frame.Range.Max = *config.MaxPower
	}
	if frame.Range.Max <= frame.Range.Min {
		return nil, fmt.Errorf("empty power range: %.1f - %.1f dB", frame.Range.Min, frame.Range.Max)
	}

	logger.Info("finished reading rows",
		slog.Group("stats",
			slog.Int("rows", st.rows),
			slog.String("minTimestamp", st.tsMin.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", st.tsMax.Local().Format(time.DateTime)),
			slog.String("minFreq", humanize.SIWithDigits(st.freqMin, 3, "Hz")),
			slog.String("maxFreq", humanize.SIWithDigits(st.freqMax, 3, "Hz")),
			slog.String("minPower", fmt.Sprintf("%0.2fdB", frame.Range.Min)),
			slog.String("maxPower", fmt.Sprintf("%0.2fdB", frame.Range.Max)),
		))

	renderer, err := waterfall.NewRenderer(waterfall.RenderConfig{
		Theme:         config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	width, height := config.Width, config.Height
	if width == 0 {
		width = st.bins
	}
	if height == 0 {
		height = len(frame.Rows)
	}

	logger.Info("rendering waterfall",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", width),
			slog.Int("height", height),
		))

	img, err := renderer.Render(frame, image.Pt(width, height))
	if err != nil {
		return nil, fmt.Errorf("rendering waterfall: %w", err)
	}
	return img, nil
}

type stats struct {
	rows             int
	bins             int
	tsMin, tsMax     time.Time
	freqMin, freqMax float64
}

func (s *stats) add(ts time.Time, lo, hi float64, bins int) {
	if s.rows == 0 {
		s.tsMin, s.tsMax = ts, ts
		s.freqMin, s.freqMax = lo, hi
	}
	s.rows++
	s.bins = max(s.bins, bins)

	if ts.Before(s.tsMin) {
		s.tsMin = ts
	}
	if ts.After(s.tsMax) {
		s.tsMax = ts
	}
	s.freqMin = math.Min(s.freqMin, lo)
	s.freqMax = math.Max(s.freqMax, hi)
}

func encode(w io.Writer, format ImageFormat, img image.Image) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return fmt.Errorf("invalid image format: %s", format)
	}
}
