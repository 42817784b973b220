package registry

import (
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// defaultGracePeriod is how long Cleanup waits between the graceful
// signal and the force kill.
const defaultGracePeriod = 10 * time.Second

// Failure describes one process in a failure terminal state.
type Failure struct {
	Name       string `json:"name"`
	Node       string `json:"node"`
	LogFile    string `json:"log_file"`
	ExitStatus string `json:"exit_status"`
	Critical   bool   `json:"critical"`
}

// ProcessState is a read-only projection of one tracked process, used by
// the status API.
type ProcessState struct {
	Name     string `json:"name"`
	Node     string `json:"node"`
	LogFile  string `json:"log_file"`
	Status   Status `json:"status"`
	ExitCode int    `json:"exit_code"`
	Critical bool   `json:"critical"`
}

// Registry tracks every process launched for one job. Names are unique
// and never reused within a run. Safe for concurrent use.
type Registry struct {
	jobID string
	log   zerolog.Logger

	// GracePeriod bounds how long Cleanup waits for graceful exits.
	GracePeriod time.Duration

	mu    sync.Mutex
	procs map[string]*ManagedProcess

	// cleanupDone is non-nil while a cleanup is in flight; concurrent
	// callers block on it instead of racing or returning early.
	cleanupDone chan struct{}
}

// New returns an empty registry tagged with the job id.
func New(jobID string, log zerolog.Logger) *Registry {
	return &Registry{
		jobID:       jobID,
		log:         log.With().Str("job_id", jobID).Logger(),
		GracePeriod: defaultGracePeriod,
		procs:       make(map[string]*ManagedProcess),
	}
}

// JobID returns the job identifier the registry is tagged with.
func (r *Registry) JobID() string { return r.jobID }

// Add registers a process under its name. A duplicate name is a
// programming error: names derive deterministically from (mode, index,
// node) and must be unique.
func (r *Registry) Add(p *ManagedProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[p.Name]; exists {
		return fmt.Errorf("process %q already registered", p.Name)
	}
	r.procs[p.Name] = p
	processesTracked.Inc()
	r.log.Debug().Str("process", p.Name).Str("node", p.Node).Msg("process registered")
	return nil
}

// AddAll registers every process in order, stopping at the first
// duplicate.
func (r *Registry) AddAll(procs []*ManagedProcess) error {
	for _, p := range procs {
		if err := r.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// Len returns how many processes are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// CheckFailures polls every handle without blocking and reports whether
// any critical process has terminated. Non-critical clean exits are not
// failures; non-critical nonzero exits are logged once and remembered for
// the failure report but do not fail the run.
func (r *Registry) CheckFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	critical := false
	for _, name := range r.sortedNames() {
		p := r.procs[name]
		was := p.status
		p.observe()
		if was == StatusRunning && p.status != StatusRunning {
			ev := r.log.Info()
			if p.failed() {
				ev = r.log.Error()
				processFailures.WithLabelValues(boolLabel(p.Critical)).Inc()
			}
			ev.Str("process", p.Name).
				Str("node", p.Node).
				Str("exit", p.exitStatus()).
				Str("log", p.LogFile).
				Msg("process terminated")
		}
		if p.Critical && p.status != StatusRunning {
			critical = true
		}
	}
	return critical
}

// Cleanup terminates every still-running process: graceful signal first,
// then a force kill for whatever survives the grace period. It is
// idempotent and never fails. When another cleanup is already in flight,
// the call blocks until that one finishes, so a caller returning from
// Cleanup knows teardown is complete.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	if r.cleanupDone != nil {
		done := r.cleanupDone
		r.mu.Unlock()
		<-done
		return
	}
	done := make(chan struct{})
	r.cleanupDone = done

	var running []*ManagedProcess
	for _, p := range r.procs {
		p.observe()
		if p.status == StatusRunning {
			running = append(running, p)
		}
	}
	for _, p := range running {
		if err := p.handle.Signal(syscall.SIGTERM); err != nil {
			r.log.Warn().Str("process", p.Name).Err(err).Msg("graceful signal failed")
		}
	}
	r.mu.Unlock()

	if len(running) > 0 {
		r.log.Info().Int("count", len(running)).Dur("grace", r.GracePeriod).Msg("waiting for processes to exit")
		r.awaitExits(running)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range running {
		p.observe()
		if p.status != StatusRunning {
			continue
		}
		if err := p.handle.Kill(); err != nil {
			r.log.Warn().Str("process", p.Name).Err(err).Msg("force kill failed")
		}
		p.status = StatusKilled
		p.exitCode = -1
		forcedKills.Inc()
		r.log.Info().Str("process", p.Name).Str("node", p.Node).Msg("force killed")
	}
	r.cleanupDone = nil
	close(done)
}

// awaitExits polls the given processes until all have terminated or the
// grace period elapses.
func (r *Registry) awaitExits(procs []*ManagedProcess) {
	deadline := time.Now().Add(r.GracePeriod)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		alive := 0
		for _, p := range procs {
			p.observe()
			if p.status == StatusRunning {
				alive++
			}
		}
		r.mu.Unlock()
		if alive == 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Failures returns every process in a failure terminal state, sorted by
// name.
func (r *Registry) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Failure
	for _, name := range r.sortedNames() {
		p := r.procs[name]
		p.observe()
		if !p.failed() {
			continue
		}
		out = append(out, Failure{
			Name:       p.Name,
			Node:       p.Node,
			LogFile:    p.LogFile,
			ExitStatus: p.exitStatus(),
			Critical:   p.Critical,
		})
	}
	return out
}

// LogFailures writes the failure report for the end of a failed run.
func (r *Registry) LogFailures() {
	failures := r.Failures()
	if len(failures) == 0 {
		return
	}
	r.log.Error().Int("count", len(failures)).Msg("failed processes")
	for _, f := range failures {
		r.log.Error().
			Str("process", f.Name).
			Str("node", f.Node).
			Str("exit", f.ExitStatus).
			Str("log", f.LogFile).
			Msg("process failure detail")
	}
}

// Snapshot returns the current state of every tracked process, sorted by
// name.
func (r *Registry) Snapshot() []ProcessState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ProcessState, 0, len(r.procs))
	for _, name := range r.sortedNames() {
		p := r.procs[name]
		p.observe()
		out = append(out, ProcessState{
			Name:     p.Name,
			Node:     p.Node,
			LogFile:  p.LogFile,
			Status:   p.status,
			ExitCode: p.exitCode,
			Critical: p.Critical,
		})
	}
	return out
}

// sortedNames returns process names in stable order. Callers must hold
// the mutex.
func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
