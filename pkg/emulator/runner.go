package emulator

import (
	"os"
	"os/exec"
)

// Proc is a handle to a spawned emulator process.
// Done is closed once the process has exited for any reason.
type Proc interface {
	Pid() int
	Done() <-chan struct{}
	// Err returns the exit error, valid after Done is closed.
	Err() error
	Signal(sig os.Signal) error
	Kill() error
}

// Runner abstracts the OS process-spawning facility,
// the controller's sole external dependency.
type Runner interface {
	Start(name string, args ...string) (Proc, error)
}

// ExecRunner spawns real processes with os/exec.
type ExecRunner struct{}

func (ExecRunner) Start(name string, args ...string) (Proc, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *proc) Pid() int                   { return p.cmd.Process.Pid }
func (p *proc) Done() <-chan struct{}      { return p.done }
func (p *proc) Err() error                 { return p.err }
func (p *proc) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *proc) Kill() error                { return p.cmd.Process.Kill() }
