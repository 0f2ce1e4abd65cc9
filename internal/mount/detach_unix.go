//go:build unix

package mount

import (
	"os/exec"
	"syscall"
)

// detach starts cmd in its own session so it survives the parent
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
