//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setProcessGroup(c *exec.Cmd) {}

func killProcessGroup(c *exec.Cmd) error {
	if c.Process == nil {
		return nil
	}
	err := c.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
