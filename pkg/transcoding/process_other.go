//go:build !windows
// +build !windows

package transcoding

import (
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(logger zerolog.Logger, cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		err := syscall.Kill(-pgid, syscall.SIGKILL)
		logger.Err(err).Int("pgid", pgid).Msg("killing process group")
		return
	}

	logger.Err(err).Msg("could not get process group id")
	err = cmd.Process.Kill()
	logger.Err(err).Msg("killing process")
}
