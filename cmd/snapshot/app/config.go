package app

import (
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ImageFormat string

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

// Config describes one snapshot
type Config struct {
	DBPath        string
	SessionID     int64
	OutputFile    string
	Format        ImageFormat
	Theme         waterfall.ColorTheme
	Width         int // 0: one pixel per bin
	Height        int // 0: one pixel per row
	MaxRows       int
	MinFrequency  *float64 // MHz
	MaxFrequency  *float64 // MHz
	MinPower      *float64 // dB, overrides the estimated range
	MaxPower      *float64 // dB, overrides the estimated range
	Verbose       bool
	NoAnnotations bool
}

func NewConfig() *Config {
	return &Config{
		Format:  ImagePNG,
		Theme:   waterfall.ClassicTheme,
		MaxRows: waterfall.MaxRowsLimit,
	}
}

// NewConfigFromCLI parses args, typically os.Args[1:]
func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var imageFormat, theme string
	var minFreq, maxFreq, minPower, maxPower float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64VarP(&c.SessionID, "session", "s", 1, "Session ID")
	fs.StringVarP(&c.OutputFile, "output", "o", "", "Path to the output file, without extension")
	fs.StringVarP(&imageFormat, "format", "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(waterfall.ClassicTheme), "Color theme. [classic, grayscale, thermal]")
	fs.IntVar(&c.Width, "width", 0, "Image width, defaults to one pixel per bin")
	fs.IntVar(&c.Height, "height", 0, "Image height, defaults to one pixel per row")
	fs.IntVar(&c.MaxRows, "max-rows", waterfall.MaxRowsLimit, "Number of most recent rows to keep")
	fs.Float64Var(&minFreq, "min-freq", 0, "Lower edge of the band in MHz")
	fs.Float64Var(&maxFreq, "max-freq", 0, "Upper edge of the band in MHz")
	fs.Float64Var(&minPower, "min-power", 0, "Define a manual minimum power (format nn.n)")
	fs.Float64Var(&maxPower, "max-power", 0, "Define a manual maximum power (format nn.n)")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as frequency labels")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-freq":
			c.MinFrequency = &minFreq
		case "max-freq":
			c.MaxFrequency = &maxFreq
		case "min-power":
			c.MinPower = &minPower
		case "max-power":
			c.MaxPower = &maxPower
		}
	})

	c.Format = ImageFormat(strings.ToLower(imageFormat))
	c.Theme = waterfall.ColorTheme(strings.ToLower(theme))

	if err := c.Validate(); err != nil {
		fs.Usage()
		return nil, err
	}

	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

// Validate checks the snapshot options
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.SessionID <= 0:
		return errors.New("session id is required")
	case c.OutputFile == "":
		return errors.New("output file is required")
	case c.Width < 0 || c.Height < 0:
		return errors.New("image size must not be negative")
	case c.MaxRows <= 0 || c.MaxRows > waterfall.MaxRowsLimit:
		return fmt.Errorf("max rows must be between 1 and %d", waterfall.MaxRowsLimit)
	case (c.MinFrequency == nil) != (c.MaxFrequency == nil):
		return errors.New("min-freq and max-freq go together")
	case c.MinFrequency != nil && *c.MinFrequency >= *c.MaxFrequency:
		return errors.New("min-freq must be lower than max-freq")
	case c.MinPower != nil && c.MaxPower != nil && *c.MinPower >= *c.MaxPower:
		return errors.New("min-power must be lower than max-power")
	}

	if _, ok := validImageFormats[c.Format]; !ok {
		return fmt.Errorf("invalid image format: %s", c.Format)
	}
	if !waterfall.ValidTheme(c.Theme) {
		return fmt.Errorf("invalid color theme: %s", c.Theme)
	}
	return nil
}
