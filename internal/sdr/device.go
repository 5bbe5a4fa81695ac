package sdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrAlreadySampling is returned by BeginSampling on a running device
	ErrAlreadySampling = errors.New("device is already sampling")
)

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *Device) {
	return func(d *Device) {
		d.logger = logger.With(
			slog.String("device", d.handler.Device()),
			slog.String("deviceID", d.deviceID),
		)
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(d *Device) {
	return func(d *Device) {
		d.parseErrorsThreshold = threshold
	}
}

// Device runs a sweep tool as a child process and turns its output into
// sweep chunks. It can be started and stopped repeatedly.
type Device struct {
	deviceID string
	handler  Handler

	isSampling atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// NewDevice creates a new Device instance with a discard logger
func NewDevice(deviceID string, h Handler, options ...func(d *Device)) *Device {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Device{
		deviceID:             deviceID,
		handler:              h,
		logger:               logger,
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// BeginSampling starts the tool and sends every parsed chunk to sweeps. The
// returned channel yields the error that stopped the tool, if any, and is
// closed once sampling has stopped.
func (d *Device) BeginSampling(ctx context.Context, sweeps chan<- *Sweep) (<-chan error, error) {
	if !d.isSampling.CompareAndSwap(false, true) {
		return nil, ErrAlreadySampling
	}

	ctx, cancel := context.WithCancel(ctx)

	cmd, stdout, stderr, err := d.start(ctx)
	if err != nil {
		cancel()
		d.isSampling.Store(false)
		return nil, err
	}

	d.cancel = cancel
	stopped := make(chan error, 1)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(stopped)
		defer d.isSampling.Store(false)
		defer cancel()

		d.logger.Info("starting sweep collection...", slog.String("cmd", cmd.String()))

		if err := d.supervise(ctx, cancel, cmd, stdout, stderr, sweeps); err != nil {
			stopped <- err
		}

		d.logger.Info("sweep collection stopped")
	}()

	return stopped, nil
}

// start launches the tool with both output pipes attached
func (d *Device) start(ctx context.Context) (*exec.Cmd, io.Reader, io.Reader, error) {
	cmd := d.handler.Cmd(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}
	if err = cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("error starting command: %w", err)
	}

	return cmd, stdout, stderr, nil
}

// supervise consumes both pipes and waits for the tool to exit. The first
// failure cancels the others; all failures are joined.
func (d *Device) supervise(ctx context.Context, cancel context.CancelFunc, cmd *exec.Cmd, stdout, stderr io.Reader, sweeps chan<- *Sweep) error {
	tasks := []func() error{
		func() error { return d.readSweeps(ctx, stdout, sweeps) },
		func() error { return d.readDiagnostics(stderr) },
		func() error {
			// the pipes must be drained before Wait closes them
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("command exited with error: %w", err)
			}
			return nil
		},
	}

	results := make(chan error, len(tasks))
	for _, task := range tasks[:2] {
		go func() { results <- task() }()
	}

	var errs []error
	collect := func(err error) {
		if err == nil {
			return
		}
		cancel()
		d.logger.Error(err.Error())
		errs = append(errs, err)
	}

	for range 2 {
		collect(<-results)
	}
	collect(tasks[2]())

	return errors.Join(errs...)
}

// readSweeps parses stdout into chunks until the pipe closes or ctx is done
func (d *Device) readSweeps(ctx context.Context, stdout io.Reader, sweeps chan<- *Sweep) error {
	var parseErrors uint8

	return scanLines(stdout, "stdout", func(line string) (bool, error) {
		sweep, err := d.handler.Parse(line, d.deviceID)
		if err != nil {
			d.logger.Warn(fmt.Sprintf("error parsing sweep: %s", err.Error()), slog.String("line", line))
			if parseErrors++; parseErrors >= d.parseErrorsThreshold {
				return false, ErrTooManyParseErrors
			}
			return true, nil
		}
		parseErrors = 0

		select {
		case sweeps <- sweep:
			return true, nil
		case <-ctx.Done():
			// keep the tool from blocking on a full pipe while it exits
			_, _ = io.Copy(io.Discard, stdout)
			return false, nil
		}
	})
}

// readDiagnostics logs whatever the tool prints to stderr
func (d *Device) readDiagnostics(stderr io.Reader) error {
	return scanLines(stderr, "stderr", func(line string) (bool, error) {
		d.logger.Warn(fmt.Sprintf("%s >> %s", d.handler.Device(), line))
		return true, nil
	})
}

// scanLines calls fn for every non-blank line of r until fn returns false,
// an error or r is exhausted
func scanLines(r io.Reader, name string, fn func(line string) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		more, err := fn(line)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("%w: error reading %s: %w", ErrBrokenPipe, name, err)
	}
	return nil
}

// Stop terminates the tool and waits for its output to be consumed
func (d *Device) Stop() {
	if !d.isSampling.Load() {
		return // already stopped
	}

	d.cancel()
	d.wg.Wait()
}

// IsSampling returns true if the device is running
func (d *Device) IsSampling() bool {
	return d.isSampling.Load()
}
