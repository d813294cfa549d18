//go:build unix

package tts

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// terminateProcess asks eSpeak to exit so its audio device is released cleanly.
func terminateProcess(cmd *exec.Cmd) error {
	err := cmd.Process.Signal(syscall.SIGTERM)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
