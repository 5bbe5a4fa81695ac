package sdr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"
)

// scriptHandler runs a shell script and parses "<start> <end> <power>" lines
type scriptHandler struct {
	script string
}

func (h scriptHandler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", "-c", h.script)
}

func (h scriptHandler) Parse(line string, deviceID string) (*Sweep, error) {
	var start, end, power float64
	if _, err := fmt.Sscanf(line, "%g %g %g", &start, &end, &power); err != nil {
		return nil, err
	}
	return &Sweep{
		StartFrequency: start,
		EndFrequency:   end,
		BinWidth:       end - start,
		Readings:       []float64{power},
		Device:         "script",
		DeviceID:       deviceID,
	}, nil
}

func (h scriptHandler) Device() string {
	return "script"
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func collect(t *testing.T, d *Device, sweeps chan *Sweep) ([]*Sweep, error) {
	t.Helper()

	stopped, err := d.BeginSampling(context.Background(), sweeps)
	if err != nil {
		t.Fatalf("BeginSampling() error = %v", err)
	}

	var got []*Sweep
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-sweeps:
			got = append(got, s)
		case err, ok := <-stopped:
			if ok && err != nil {
				return got, err
			}
			// pick up anything sent before the tool exited
			for {
				select {
				case s := <-sweeps:
					got = append(got, s)
				default:
					return got, nil
				}
			}
		case <-timeout:
			t.Fatal("device did not stop")
		}
	}
}

func TestDevice_Sweeps(t *testing.T) {
	requireShell(t)

	d := NewDevice("7", scriptHandler{script: "echo '1 2 -40'; echo; echo '2 3 -41'; echo 'tuner warming up' >&2"})
	got, err := collect(t, d, make(chan *Sweep, 8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 sweeps, got %d", len(got))
	}
	if got[0].StartFrequency != 1 || got[1].Readings[0] != -41 || got[1].DeviceID != "7" {
		t.Errorf("Unexpected sweeps %+v %+v", got[0], got[1])
	}
	if d.IsSampling() {
		t.Error("Expected the device to be stopped after the tool exited")
	}
}

func TestDevice_TooManyParseErrors(t *testing.T) {
	requireShell(t)

	script := "for i in 1 2 3 4; do echo garbage; done"
	d := NewDevice("0", scriptHandler{script: script}, WithParseErrorsThreshold(3))

	_, err := collect(t, d, make(chan *Sweep, 8))
	if !errors.Is(err, ErrTooManyParseErrors) {
		t.Fatalf("Expected ErrTooManyParseErrors, got %v", err)
	}
}

func TestDevice_ExitError(t *testing.T) {
	requireShell(t)

	d := NewDevice("0", scriptHandler{script: "echo '1 2 -40'; exit 3"})
	got, err := collect(t, d, make(chan *Sweep, 8))
	if err == nil {
		t.Fatal("Expected the exit status to be reported")
	}
	if len(got) != 1 {
		t.Errorf("Expected the sweep printed before exiting, got %d", len(got))
	}
}

func TestDevice_StopAndRestart(t *testing.T) {
	requireShell(t)

	script := "i=0; while true; do i=$((i+1)); echo \"$i $((i+1)) -50\"; sleep 0.01; done"
	d := NewDevice("0", scriptHandler{script: script})

	for run := range 2 {
		sweeps := make(chan *Sweep)
		if _, err := d.BeginSampling(context.Background(), sweeps); err != nil {
			t.Fatalf("run %d: BeginSampling() error = %v", run, err)
		}
		if _, err := d.BeginSampling(context.Background(), sweeps); !errors.Is(err, ErrAlreadySampling) {
			t.Errorf("run %d: expected ErrAlreadySampling, got %v", run, err)
		}

		select {
		case s := <-sweeps:
			if s.Readings[0] != -50 {
				t.Errorf("run %d: unexpected reading %s", run, strconv.FormatFloat(s.Readings[0], 'f', -1, 64))
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: no sweep received", run)
		}

		// the consumer stops reading while the tool keeps writing
		d.Stop()
		if d.IsSampling() {
			t.Fatalf("run %d: device still sampling after Stop", run)
		}
	}
}
