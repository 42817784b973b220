package registry

import (
	"fmt"

	"github.com/elvischenv/srt-slurm/internal/launcher"
)

// Status is the lifecycle state of a managed process. Transitions are
// one-way: running -> exited or killed, never back.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusKilled  Status = "killed"
)

// ManagedProcess is one running worker tracked by the registry. The
// handle is exclusively owned by the registry once the process is added.
type ManagedProcess struct {
	Name    string
	Node    string
	LogFile string
	// Critical processes are expected to run for the whole job; any
	// termination, clean or not, fails the run.
	Critical bool

	handle   launcher.Handle
	status   Status
	exitCode int
}

// NewManagedProcess wraps a started handle for registration.
func NewManagedProcess(name, node, logFile string, critical bool, h launcher.Handle) *ManagedProcess {
	return &ManagedProcess{
		Name:     name,
		Node:     node,
		LogFile:  logFile,
		Critical: critical,
		handle:   h,
		status:   StatusRunning,
	}
}

// observe polls the handle once and latches the terminal status. Callers
// must hold the registry mutex.
func (p *ManagedProcess) observe() {
	if p.status != StatusRunning {
		return
	}
	done, code := p.handle.Poll()
	if !done {
		return
	}
	p.exitCode = code
	if code < 0 {
		p.status = StatusKilled
	} else {
		p.status = StatusExited
	}
}

// failed reports whether the process is in a failure terminal state: any
// termination for critical processes, nonzero exit for the rest.
func (p *ManagedProcess) failed() bool {
	if p.status == StatusRunning {
		return false
	}
	return p.Critical || p.exitCode != 0
}

// exitStatus renders the terminal state for reports.
func (p *ManagedProcess) exitStatus() string {
	switch p.status {
	case StatusKilled:
		return "killed by signal"
	case StatusExited:
		return fmt.Sprintf("exit code %d", p.exitCode)
	default:
		return "running"
	}
}
