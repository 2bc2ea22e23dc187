package provision

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/wobcom/netbox-sub000/internal/domain"
)

// Process is a launched pipeline subprocess.
type Process interface {
	// PID returns the operating system process id.
	PID() int

	// Wait blocks until the process exits and returns its exit error, nil on
	// a clean exit.
	Wait() error

	// Signal delivers a signal to the process.
	Signal(sig os.Signal) error
}

// Launcher starts pipeline subprocesses. Abstracted so tests can stand in
// fake processes without forking.
type Launcher interface {
	// Start launches argv with extra environment entries appended to the
	// current environment. Stdout and stderr both go to output.
	Start(argv []string, extraEnv []string, output io.Writer) (Process, error)
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

// ExecLauncher launches real subprocesses via os/exec.
type ExecLauncher struct{}

var _ Launcher = ExecLauncher{}

// Start implements Launcher.
func (ExecLauncher) Start(argv []string, extraEnv []string, output io.Writer) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

// ExitStatus classifies a subprocess exit into the terminal provision state:
// clean exit means FINISHED, termination by SIGTERM means ABORTED (the
// cooperative abort signal), anything else means FAILED.
func ExitStatus(waitErr error) domain.ProvisionStatus {
	if waitErr == nil {
		return domain.ProvisionFinished
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok &&
			ws.Signaled() && ws.Signal() == syscall.SIGTERM {
			return domain.ProvisionAborted
		}
	}
	return domain.ProvisionFailed
}
