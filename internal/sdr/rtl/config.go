package rtl

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/driver"
)

const (
	BinWidthMin = 1
	BinWidthMax = 2_800_000
)

// WindowFunction is an FFT window supported by rtl_power (-w)
type WindowFunction string

const (
	WindowFunctionRectangle      WindowFunction = "rectangle"
	WindowFunctionHamming        WindowFunction = "hamming"
	WindowFunctionBlackman       WindowFunction = "blackman"
	WindowFunctionBlackmanHarris WindowFunction = "blackman-harris"
	WindowFunctionHannPoisson    WindowFunction = "hann-poisson"
	WindowFunctionBartlett       WindowFunction = "bartlett"
	WindowFunctionYoussef        WindowFunction = "youssef"
	WindowFunctionKaiser         WindowFunction = "kaiser"
)

// SmoothingMethod is the rtl_power integration method (-s)
type SmoothingMethod string

const (
	SmoothingAvg SmoothingMethod = "avg"
	SmoothingIIR SmoothingMethod = "iir"
)

// Gains are the gain steps of the R820T tuner in dB
var Gains = []float64{
	0.0, 0.9, 1.4, 2.7, 3.7, 7.7, 8.7, 12.5, 14.4, 15.7, 16.6, 19.7, 20.7, 22.9,
	25.4, 28.0, 29.7, 32.8, 33.8, 36.4, 37.2, 38.6, 40.2, 42.1, 43.4, 43.9, 44.5,
	48.0, 49.6,
}

var windowFunctions = []WindowFunction{
	WindowFunctionRectangle,
	WindowFunctionHamming,
	WindowFunctionBlackman,
	WindowFunctionBlackmanHarris,
	WindowFunctionHannPoisson,
	WindowFunctionBartlett,
	WindowFunctionYoussef,
	WindowFunctionKaiser,
}

// Config holds the rtl_power options that are not derived from the tuning.
// Band, bin width (-f) and integration (-i) always come from the waterfall.
//
// For the FM band at 125 kHz resolution and one second integration:
//
//	rtl_power -f 88000000:108000000:125000 -i 1 -d 0 -
//
// https://manpages.debian.org/bookworm/rtl-sdr/rtl_power.1.en.html
type Config struct {
	DeviceIndex int `yaml:"deviceIndex" json:"deviceIndex"` // -d
	Gain        int `yaml:"gain" json:"gain"`               // -g, automatic when 0
	PPMError    int `yaml:"ppmError" json:"ppmError"`       // -p

	Smoothing      SmoothingMethod `yaml:"smoothing" json:"smoothing"`           // -s
	WindowFunction WindowFunction  `yaml:"windowFunction" json:"windowFunction"` // -w
	Crop           float64         `yaml:"crop" json:"crop"`                     // -c, fraction of each hop discarded
	BiasTee        bool            `yaml:"biasTee" json:"biasTee"`               // -T
}

// Validate checks the tool options
func (c *Config) Validate() error {
	switch {
	case c.DeviceIndex < 0:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: device index must not be negative: %d", c.DeviceIndex))
	case c.Gain < 0:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: gain must not be negative: %d", c.Gain))
	case c.WindowFunction != "" && !slices.Contains(windowFunctions, c.WindowFunction):
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: unknown window function %q", c.WindowFunction))
	case c.Smoothing != "" && c.Smoothing != SmoothingAvg && c.Smoothing != SmoothingIIR:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: unknown smoothing method %q", c.Smoothing))
	case c.Crop < 0 || c.Crop >= 1:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: crop must be in [0, 1): %.2f", c.Crop))
	}
	return nil
}

func validateTuning(t sdr.Tuning) error {
	switch {
	case t.FrequencyStart <= 0:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: band must start above 0 Hz: %d", t.FrequencyStart))
	case t.FrequencyEnd <= t.FrequencyStart:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: empty band %d-%d Hz", t.FrequencyStart, t.FrequencyEnd))
	case t.BinWidth < BinWidthMin || t.BinWidth > BinWidthMax:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: bin width %d Hz is outside [%d, %d]", t.BinWidth, BinWidthMin, BinWidthMax))
	case t.Integration < 0:
		return driver.NewConfigError(fmt.Sprintf("rtl.Config: negative integration %s", t.Integration))
	}
	return nil
}

// Args returns the rtl_power arguments sweeping the band of the tuning and
// writing CSV to stdout
func (c *Config) Args(t sdr.Tuning) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := validateTuning(t); err != nil {
		return nil, err
	}

	args := []string{"-f", fmt.Sprintf("%d:%d:%d", t.FrequencyStart, t.FrequencyEnd, t.BinWidth)}

	// whole seconds only
	if t.Integration > 0 {
		args = append(args, "-i", strconv.Itoa(int(math.Ceil(t.Integration.Seconds()))))
	}

	args = append(args, "-d", strconv.Itoa(c.DeviceIndex))

	gain := strconv.Itoa(c.Gain)
	hasGain := c.Gain > 0
	if t.Gain.Override {
		gain = strconv.FormatFloat(t.Gain.DB, 'f', 1, 64)
		hasGain = !t.Gain.Auto
	}

	optional := []struct {
		set  bool
		flag string
		val  string
	}{
		{hasGain, "-g", gain},
		{c.PPMError != 0, "-p", strconv.Itoa(c.PPMError)},
		{c.Smoothing != "", "-s", string(c.Smoothing)},
		{c.WindowFunction != "", "-w", string(c.WindowFunction)},
		{c.Crop > 0, "-c", strconv.FormatFloat(c.Crop, 'f', 2, 64)},
		{c.BiasTee, "-T", ""},
	}
	for _, o := range optional {
		if !o.set {
			continue
		}
		args = append(args, o.flag)
		if o.val != "" {
			args = append(args, o.val)
		}
	}

	return append(args, "-"), nil
}

