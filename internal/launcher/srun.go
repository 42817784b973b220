package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// SrunStarter launches processes through srun inside an existing SLURM
// allocation. Every task gets --overlap so workers can share nodes with
// the job step that runs the orchestrator itself.
type SrunStarter struct {
	// Binary overrides the srun executable, mostly for tests.
	Binary string
	Log    zerolog.Logger
}

// NewSrunStarter returns a Starter wrapping the srun binary on PATH.
func NewSrunStarter(log zerolog.Logger) *SrunStarter {
	return &SrunStarter{Binary: "srun", Log: log}
}

// buildArgs renders the srun argument list for a spec. Mounts and extra
// options are emitted in sorted order so commands are reproducible.
func (s *SrunStarter) buildArgs(spec Spec) []string {
	args := []string{
		"--nodes=1",
		"--ntasks=1",
		"--overlap",
		"--nodelist=" + strings.Join(spec.Nodes, ","),
	}
	if spec.Output != "" {
		args = append(args, "--output="+spec.Output)
	}
	if spec.ContainerImage != "" {
		args = append(args, "--container-image="+spec.ContainerImage)
		if len(spec.ContainerMounts) > 0 {
			args = append(args, "--container-mounts="+renderMounts(spec.ContainerMounts))
		}
	}
	for _, k := range sortedKeys(spec.ExtraOptions) {
		args = append(args, fmt.Sprintf("--%s=%s", k, spec.ExtraOptions[k]))
	}
	return append(args, spec.Command...)
}

// Start launches the spec through srun and returns a handle for the srun
// process. srun forwards signals to the remote task, so terminating the
// handle terminates the worker.
func (s *SrunStarter) Start(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, startError{"empty command"}
	}
	if len(spec.Nodes) == 0 {
		return nil, startError{"no nodes given"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The command is deliberately not bound to ctx: cancellation must not
	// SIGKILL srun (which cannot forward it to the remote task). Teardown
	// goes through Handle.Signal/Kill so the graceful sequence applies.
	args := s.buildArgs(spec)
	cmd := exec.Command(s.Binary, args...)
	cmd.Env = append(os.Environ(), renderEnv(spec.Env)...)
	// Keep srun out of the orchestrator's signal group; termination goes
	// through Handle.Signal only.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, startError{fmt.Sprintf("srun %s: %v", strings.Join(spec.Nodes, ","), err)}
	}

	s.Log.Info().
		Int("pid", cmd.Process.Pid).
		Str("nodes", strings.Join(spec.Nodes, ",")).
		Str("output", spec.Output).
		Msg("started srun process")
	s.Log.Debug().Str("cmd", s.Binary+" "+strings.Join(args, " ")).Msg("srun command")

	return newExecHandle(cmd), nil
}

func renderMounts(mounts map[string]string) string {
	parts := make([]string, 0, len(mounts))
	for _, host := range sortedKeys(mounts) {
		parts = append(parts, host+":"+mounts[host])
	}
	return strings.Join(parts, ",")
}

func renderEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range sortedKeys(env) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
