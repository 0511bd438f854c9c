package detector

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandDetector runs a probe command that exits 0 when the service is
// running. Like service commands, the probe is an argv vector, never a shell
// string.
type CommandDetector struct{ Command []string }

func (d CommandDetector) Alive() (bool, error) {
	if len(d.Command) == 0 || d.Command[0] == "" {
		return false, fmt.Errorf("command detector requires a command")
	}
	// #nosec G204 argv comes from validated configuration
	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit code means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + strings.Join(d.Command, " ") }
