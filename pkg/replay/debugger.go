package replay

import (
	"io"
	"os"
	"os/exec"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/consts"
)

// Debugger opens a core file of exe.
type Debugger interface {
	Debug(exe, core string) error
}

// ExternalDebugger runs a debugger process and waits for it to exit.
type ExternalDebugger struct {
	Command []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewExternalDebugger uses $EMD_DEBUGGER (which may carry arguments) or gdb.
func NewExternalDebugger() (*ExternalDebugger, error) {
	command := []string{consts.DefaultDebugger}
	if value := os.Getenv(consts.EnvDebugger); value != "" {
		parts, err := shlex.Split(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", consts.EnvDebugger)
		}
		if len(parts) > 0 {
			command = parts
		}
	}

	return &ExternalDebugger{
		Command: command,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

func (d *ExternalDebugger) Debug(exe, core string) error {
	args := append(append([]string{}, d.Command[1:]...), exe, core)
	cmd := exec.Command(d.Command[0], args...)
	cmd.Stdin = d.Stdin
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr

	log.Debugf("replay: running %s %v", d.Command[0], args)
	if err := cmd.Run(); err != nil {
		// a debugger quitting with a non-zero status is not a failure to run it
		if _, ok := err.(*exec.ExitError); ok {
			log.Debugf("replay: debugger exited: %v", err)
			return nil
		}
		return errors.Wrapf(err, "running %s", d.Command[0])
	}

	return nil
}
