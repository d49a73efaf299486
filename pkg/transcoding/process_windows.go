//go:build windows
// +build windows

package transcoding

import (
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killProcessGroup(logger zerolog.Logger, cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	// taskkill /T terminates the whole process tree
	kill := exec.Command("TASKKILL", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		logger.Err(err).Msg("failed to kill process tree")
		err = cmd.Process.Kill()
		logger.Err(err).Msg("killing process")
		return
	}

	logger.Debug().Msg("killed process tree")
}
