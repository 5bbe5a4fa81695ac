package hackrf

import (
	"fmt"
	"strconv"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
	"github.com/roman-kulish/radio-waterfall/internal/sdr/driver"
)

const (
	MinNumSamples   = 8192
	MinBinWidth     = 2445
	MaxBinWidth     = 5_000_000
	MaxFrequencyMHz = 7250
	MaxLNAGain      = 40
	MaxVGAGain      = 62
	LNAGainStep     = 8
	VGAGainStep     = 2
)

// Config holds the hackrf_sweep options that are not derived from the
// tuning. Band (-f) and bin width (-w) come from the waterfall; the serial
// number (-d) is configured next to the device. hackrf_sweep has no
// integration interval and always runs continuously.
//
//	hackrf_sweep -f 824:849 -w 100000 -l 16 -g 20
//
// https://manpages.debian.org/bookworm/hackrf/hackrf_sweep.1.en.html
type Config struct {
	LNAGain      *int  `yaml:"lnaGain" json:"lnaGain"`           // -l, IF gain in 8 dB steps
	VGAGain      *int  `yaml:"vgaGain" json:"vgaGain"`           // -g, baseband gain in 2 dB steps
	NumSamples   int64 `yaml:"numSamples" json:"numSamples"`     // -n, samples per frequency
	EnableAmp    bool  `yaml:"enableAmp" json:"enableAmp"`       // -a 1
	AntennaPower bool  `yaml:"antennaPower" json:"antennaPower"` // -p 1
}

// Validate checks the tool options
func (c *Config) Validate() error {
	if err := validateGain("LNA", c.LNAGain, MaxLNAGain, LNAGainStep); err != nil {
		return err
	}
	if err := validateGain("VGA", c.VGAGain, MaxVGAGain, VGAGainStep); err != nil {
		return err
	}
	if c.NumSamples != 0 && c.NumSamples < MinNumSamples {
		return driver.NewConfigError(fmt.Sprintf("hackrf.Config: at least %d samples per frequency required: %d", MinNumSamples, c.NumSamples))
	}
	return nil
}

func validateGain(name string, gain *int, limit, step int) error {
	switch {
	case gain == nil:
		return nil
	case *gain < 0 || *gain > limit:
		return driver.NewConfigError(fmt.Sprintf("hackrf.Config: %s gain %d dB is outside [0, %d]", name, *gain, limit))
	case *gain%step != 0:
		return driver.NewConfigError(fmt.Sprintf("hackrf.Config: %s gain %d dB is not a multiple of %d", name, *gain, step))
	}
	return nil
}

// Args builds the command line arguments for `hackrf_sweep` sweeping the
// band of the tuning. The tool tunes in whole MHz, so the band is widened
// to the enclosing MHz boundaries.
// See `man hackrf_sweep` for more information:
// https://manpages.debian.org/bookworm/hackrf/hackrf_sweep.1.en.html
func (c *Config) Args(t sdr.Tuning, serialNumber string) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	startMHz := t.FrequencyStart / 1_000_000
	endMHz := (t.FrequencyEnd + 999_999) / 1_000_000

	switch {
	case t.FrequencyStart < 0 || endMHz <= startMHz:
		return nil, driver.NewConfigError(fmt.Sprintf("hackrf.Config: empty band %d-%d Hz", t.FrequencyStart, t.FrequencyEnd))
	case endMHz > MaxFrequencyMHz:
		return nil, driver.NewConfigError(fmt.Sprintf("hackrf.Config: band ends above %d MHz: %d", MaxFrequencyMHz, endMHz))
	case t.BinWidth < MinBinWidth || t.BinWidth > MaxBinWidth:
		return nil, driver.NewConfigError(fmt.Sprintf("hackrf.Config: bin width %d Hz is outside [%d, %d]", t.BinWidth, MinBinWidth, MaxBinWidth))
	}

	args := []string{
		"-f", fmt.Sprintf("%d:%d", startMHz, endMHz),
		"-w", strconv.FormatInt(t.BinWidth, 10),
	}

	if serialNumber != "" {
		args = append(args, "-d", serialNumber)
	}

	if c.LNAGain != nil {
		args = append(args, "-l", strconv.Itoa(*c.LNAGain))
	}

	if c.VGAGain != nil {
		args = append(args, "-g", strconv.Itoa(*c.VGAGain))
	}

	if c.NumSamples > 0 {
		args = append(args, "-n", strconv.FormatInt(c.NumSamples, 10))
	}

	if c.EnableAmp {
		args = append(args, "-a", "1")
	}

	if c.AntennaPower {
		args = append(args, "-p", "1")
	}

	return args, nil
}
