package hackrf

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
	Runtime = "hackrf_sweep"
	Device  = "HackRF"

	timestampLayout = "2006-01-02 15:04:05.999999"
)

// handler struct represents a HackRF handler
type handler struct {
	binPath string
	args    []string
}

// New returns a factory creating HackRF handlers for a tuning. serialNumber
// selects the device and may be empty.
func New(config *Config, serialNumber string) sdr.HandlerFactory {
	return func(t sdr.Tuning) (sdr.Handler, error) {
		binPath, err := sdr.FindRuntime(Runtime)
		if err != nil {
			return nil, fmt.Errorf("error finding runtime: %w", err)
		}

		args, err := config.Args(t, serialNumber)
		if err != nil {
			return nil, fmt.Errorf("error creating args: %w", err)
		}

		return &handler{binPath, args}, nil
	}
}

// Cmd returns an exec.Cmd for the HackRF handler
func (h handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Parse parses a line of HackRF output
func (h handler) Parse(line string, deviceID string) (*sdr.Sweep, error) {
	return parseLine(line, deviceID)
}

// Device returns the device type
func (h handler) Device() string {
	return Device
}

func parseLine(line string, deviceID string) (*sdr.Sweep, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return nil, fmt.Errorf("invalid hackrf_sweep output: not enough fields")
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
		return nil, fmt.Errorf("invalid bin width: %w", err)
	}
	if sweep.BinWidth <= 0 {
		return nil, fmt.Errorf("invalid bin width: %f", sweep.BinWidth)
	}

	sweep.NumSamples, err = strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return nil, fmt.Errorf("invalid number of samples: %w", err)
	}

	// Parse power values
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
