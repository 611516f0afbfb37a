//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func configureSysProcAttr(_ *exec.Cmd) {}

// signalGroup has no process-group semantics on Windows; the process is
// killed directly regardless of sig.
func signalGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
