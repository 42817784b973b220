// Package launcher starts worker processes on named cluster nodes and
// hands back handles for liveness checks and termination. It is split by
// concern:
//
//   - launcher.go: Spec, Starter and Handle interfaces, error helpers.
//   - exec_handle.go: Handle implementation over os/exec with a single
//     reaper goroutine publishing the exit status.
//   - srun.go: Starter implementation that wraps commands in srun.
package launcher

import (
	"context"
	"os"
)

// Spec describes one process to start on a remote node: the command, where
// its output goes, its environment, and the container it runs in.
type Spec struct {
	Command []string
	// Nodes the process may be placed on; for workers this is exactly one.
	Nodes []string
	// Output is the log file path the process writes to.
	Output string
	Env    map[string]string
	// ContainerImage and ContainerMounts select the enroot/pyxis container.
	ContainerImage  string
	ContainerMounts map[string]string
	// ExtraOptions are passed through to the underlying launcher verbatim.
	ExtraOptions map[string]string
}

// Handle is an exclusively-owned reference to a started process. All
// methods are safe for concurrent use; ownership is expected to move to
// the process registry right after start.
type Handle interface {
	// Pid returns the local pid of the launcher process.
	Pid() int
	// Poll reports, without blocking, whether the process has terminated
	// and with which exit code. A negative code means it died on a signal.
	Poll() (done bool, code int)
	// Signal delivers a graceful termination request.
	Signal(sig os.Signal) error
	// Kill forcibly terminates the process.
	Kill() error
}

// Starter is the capability consumed by the orchestrator: start a process
// on a named node and return a handle for it.
type Starter interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// startError signals that the launch itself failed (before the process
// ever ran).
type startError struct{ msg string }

func (e startError) Error() string { return e.msg }

// IsStartError reports whether err indicates a failed process launch.
func IsStartError(err error) bool {
	_, ok := err.(startError)
	return ok
}
