//go:build windows

package tts

import (
	"errors"
	"os"
	"os/exec"
)

// terminateProcess kills eSpeak; Windows has no SIGTERM equivalent for
// console processes.
func terminateProcess(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
