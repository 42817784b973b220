package launcher

import (
	"os"
	"os/exec"
	"sync"
)

// execHandle implements Handle over an exec.Cmd. A single reaper goroutine
// calls Wait and publishes the exit status; Poll never blocks and every
// other method stays safe after the process is gone.
type execHandle struct {
	cmd *exec.Cmd

	mu   sync.Mutex
	done bool
	code int
}

// newExecHandle wraps an already-started command and begins reaping it.
func newExecHandle(cmd *exec.Cmd) *execHandle {
	h := &execHandle{cmd: cmd}
	go h.reap()
	return h
}

func (h *execHandle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	if err == nil {
		h.code = 0
		return
	}
	if ee, ok := err.(*exec.ExitError); ok {
		// ExitCode is -1 when the process was killed by a signal.
		h.code = ee.ExitCode()
		return
	}
	h.code = -1
}

func (h *execHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Poll() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done, h.code
}

func (h *execHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Kill() error {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	return h.cmd.Process.Kill()
}
