//go:build !windows

package sdr

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/roman-kulish/radio-waterfall/internal/sdr/driver"
)

// FindRuntime locates the sweep tool binary in PATH
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", driver.NewRuntimeError(fmt.Sprintf("`%s` not found in PATH", runtime), err)
		}
		return "", driver.NewRuntimeError(fmt.Sprintf("failed to locate `%s`", runtime), err)
	}

	return binPath, nil
}
