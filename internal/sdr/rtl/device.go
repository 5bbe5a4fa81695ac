package rtl

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/radio-waterfall/internal/sdr"
)

const (
	Runtime = "rtl_power"
	Device  = "RTL-SDR"

	timestampLayout = "2006-01-02 15:04:05"
)

// handler struct represents an RTL-SDR handler
type handler struct {
	binPath string
	args    []string
}

// New returns a factory creating RTL-SDR handlers for a tuning
func New(config *Config) sdr.HandlerFactory {
	return func(t sdr.Tuning) (sdr.Handler, error) {
		binPath, err := sdr.FindRuntime(Runtime)
		if err != nil {
			return nil, fmt.Errorf("error finding runtime: %w", err)
		}

		args, err := config.Args(t)
		if err != nil {
			return nil, fmt.Errorf("error creating args: %w", err)
		}

		return &handler{binPath, args}, nil
	}
}

// Cmd returns an exec.Cmd for the RTL-SDR handler
func (h handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Parse parses a line of `rtl_power` output:
//
//	date, time, Hz low, Hz high, Hz step, samples, dBm, dBm, ...
func (h handler) Parse(line string, deviceID string) (*sdr.Sweep, error) {
	return parseLine(line, deviceID)
}

func (h handler) Device() string {
	return Device
}

func parseLine(line string, deviceID string) (*sdr.Sweep, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return nil, fmt.Errorf("invalid rtl_power output: not enough fields")
	}

	var err error

	sweep := sdr.Sweep{
		Device:   Device,
		DeviceID: deviceID,
	}

	// Parse timestamp
	dateTime := strings.TrimSpace(fields[0]) + " " + strings.TrimSpace(fields[1])
	sweep.Timestamp, err = time.ParseInLocation(timestampLayout, dateTime, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	// Parse frequency range and bin information
	sweep.StartFrequency, err = strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start frequency: %w", err)
	}

	sweep.EndFrequency, err = strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end frequency: %w", err)
	}

	sweep.BinWidth, err = strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bin size: %w", err)
	}
	if sweep.BinWidth <= 0 {
		return nil, fmt.Errorf("invalid bin size: %f", sweep.BinWidth)
	}

	sweep.NumSamples, err = strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return nil, fmt.Errorf("invalid number of samples: %w", err)
	}

	// Parse average power values, rtl_power prints "nan" for unusable bins
	sweep.Readings = make([]float64, 0, len(fields)-6)
	for _, field := range fields[6:] {
		power, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil || math.IsInf(power, 0) {
			power = math.NaN()
		}
		sweep.Readings = append(sweep.Readings, power)
	}

	return &sweep, nil
}
