// Package orchestrator drives one serving job end to end: allocate the
// topology, bring up head infrastructure, start workers, start the
// frontend, then hold the benchmark stage until the operator stops the
// job or a critical process dies. Cleanup always runs, exactly once.
//
//   - orchestrator.go: the stage machine and Run entry point.
//   - health.go: bounded readiness polls that observe cancellation.
//   - errors.go, metrics.go: error helpers and stage metrics.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elvischenv/srt-slurm/internal/backend"
	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/internal/launcher"
	"github.com/elvischenv/srt-slurm/internal/registry"
	"github.com/elvischenv/srt-slurm/internal/report"
	"github.com/elvischenv/srt-slurm/internal/runtime"
	"github.com/elvischenv/srt-slurm/internal/topology"
	"github.com/elvischenv/srt-slurm/pkg/contract"
)

// Stage identifies where the orchestrator currently is in a run.
type Stage string

const (
	StageInit           Stage = "init"
	StageInfrastructure Stage = "infrastructure"
	StageWorkers        Stage = "workers"
	StageFrontend       Stage = "frontend"
	StageBenchmark      Stage = "benchmark"
	StageCleanup        Stage = "cleanup"
)

// Ports of the head infrastructure processes inside the job.
const (
	NatsPort       = 4222
	EtcdClientPort = 2379
	EtcdPeerPort   = 2380
)

// containerModelPath is where the model directory mounts inside every
// container, regardless of its host path.
const containerModelPath = "/model"

// Orchestrator runs one job. Construct with New, then call Run once.
type Orchestrator struct {
	Config   *config.JobConfig
	Runtime  *runtime.Context
	Backend  *backend.SGLang
	Starter  launcher.Starter
	Registry *registry.Registry
	Reporter *report.Reporter
	Log      zerolog.Logger

	// Poll budgets; New fills in defaults sized for real clusters, tests
	// shrink them.
	MonitorInterval time.Duration
	PortAttempts    int
	PortInterval    time.Duration
	HealthAttempts  int
	HealthInterval  time.Duration
	BenchmarkPoll   time.Duration

	// InfraPorts and FrontendPort are the ports the readiness waits probe
	// on the head node.
	InfraPorts   []int
	FrontendPort int
	// FrontendURL overrides the derived http://{head_ip}:{port} base URL.
	FrontendURL string

	// ResolveIP maps a node hostname to a reachable address.
	ResolveIP func(string) string

	httpClient *http.Client

	mu         sync.Mutex
	stage      Stage
	placements []topology.Placement
}

// New wires an orchestrator with production defaults. The backend sees
// the container-side model path; the served model name keeps the host
// basename.
func New(cfg *config.JobConfig, rt *runtime.Context, starter launcher.Starter, reg *registry.Registry, rep *report.Reporter, log zerolog.Logger) *Orchestrator {
	b := backend.NewSGLang(cfg, rt.ModelPath)
	b.ModelPath = containerModelPath

	return &Orchestrator{
		Config:   cfg,
		Runtime:  rt,
		Backend:  b,
		Starter:  starter,
		Registry: reg,
		Reporter: rep,
		Log:      log,

		MonitorInterval: registry.DefaultMonitorInterval,
		PortAttempts:    60,
		PortInterval:    time.Second,
		HealthAttempts:  60,
		HealthInterval:  10 * time.Second,
		BenchmarkPoll:   5 * time.Second,
		InfraPorts:      []int{NatsPort, EtcdClientPort},
		FrontendPort:    backend.FrontendPort,

		ResolveIP:  runtime.ResolveHostIP,
		httpClient: &http.Client{Timeout: 10 * time.Second},

		stage: StageInit,
	}
}

// Run executes the whole job and returns its exit code. The failure
// monitor and signal handler are live for the duration; cleanup runs no
// matter how the stages end.
func (o *Orchestrator) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry.StartMonitor(ctx, cancel, o.Registry, o.MonitorInterval, o.Log)
	stopSignals := registry.NotifySignals(cancel, o.Registry, o.Log)
	defer stopSignals()

	err := o.execute(ctx)

	o.setStage(StageCleanup)
	o.Reporter.Stage(o.Registry.JobID(), contract.StatusRunning, contract.StageCleanup, "tearing down processes")
	o.Registry.Cleanup()

	if err != nil {
		status := contract.StatusFailed
		if errors.Is(err, context.Canceled) && len(o.Registry.Failures()) == 0 {
			status = contract.StatusCancelled
		}
		o.Log.Error().Err(err).Msg("run failed")
		o.Registry.LogFailures()
		o.Reporter.Finished(o.Registry.JobID(), status, 1)
		return 1
	}

	o.Log.Info().Str("run", o.Runtime.RunName).Msg("run completed")
	o.Reporter.Finished(o.Registry.JobID(), contract.StatusCompleted, 0)
	return 0
}

func (o *Orchestrator) execute(ctx context.Context) error {
	if err := o.runStage(ctx, StageInit, o.allocate); err != nil {
		return err
	}
	if err := o.runStage(ctx, StageInfrastructure, o.startInfrastructure); err != nil {
		return err
	}
	if err := o.runStage(ctx, StageWorkers, o.startWorkers); err != nil {
		return err
	}
	if err := o.runStage(ctx, StageFrontend, o.startFrontend); err != nil {
		return err
	}
	return o.runStage(ctx, StageBenchmark, o.runBenchmark)
}

// runStage guards a stage with the cancellation check, tracks its
// duration, and logs the transition.
func (o *Orchestrator) runStage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.setStage(s)
	o.Log.Info().Str("stage", string(s)).Msg("stage starting")

	start := time.Now()
	err := fn(ctx)
	stageDuration.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())

	if err != nil {
		o.Log.Error().Str("stage", string(s)).Err(err).Msg("stage failed")
	}
	return err
}

// allocate maps the resource request onto the worker nodes and derives
// the per-node process list.
func (o *Orchestrator) allocate(context.Context) error {
	r := o.Config.Resources
	endpoints, err := topology.Allocate(topology.AllocationRequest{
		NumPrefill:     r.PrefillWorkers,
		NumDecode:      r.DecodeWorkers,
		NumAgg:         r.AggWorkers,
		GPUsPerPrefill: o.Config.GPUsPerPrefill(),
		GPUsPerDecode:  o.Config.GPUsPerDecode(),
		GPUsPerAgg:     o.Config.GPUsPerAgg(),
		GPUsPerNode:    r.GPUsPerNode,
		AvailableNodes: o.Runtime.Nodes.Worker,
	})
	if err != nil {
		return err
	}
	placements := topology.BuildPlacements(endpoints, topology.DefaultBasePort)

	o.mu.Lock()
	o.placements = placements
	o.mu.Unlock()

	o.Log.Info().
		Int("endpoints", len(placements)).
		Int("processes", o.processCount()).
		Str("head", o.Runtime.Nodes.Head).
		Msg("topology allocated")
	o.writeTopology(placements)
	o.Reporter.Stage(o.Registry.JobID(), contract.StatusStarting, contract.StageStarting, "topology allocated")
	return nil
}

func (o *Orchestrator) endpointList() []topology.Endpoint {
	endpoints := make([]topology.Endpoint, len(o.placements))
	for i, pl := range o.placements {
		endpoints[i] = pl.Endpoint
	}
	return endpoints
}

func (o *Orchestrator) processCount() int {
	n := 0
	for _, pl := range o.placements {
		n += len(pl.Processes)
	}
	return n
}

// writeTopology dumps the resolved allocation next to the logs so a run
// is reproducible from its artifacts alone. Best effort.
func (o *Orchestrator) writeTopology(placements []topology.Placement) {
	data, err := json.MarshalIndent(map[string]any{"placements": placements}, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(o.Runtime.LogDir, "topology.json"), data, 0o644)
	}
	if err != nil {
		o.Log.Warn().Err(err).Msg("could not write topology dump")
	}
}

// startInfrastructure brings up NATS and etcd on the head node. The
// sglang router path has no dynamo runtime and needs neither.
func (o *Orchestrator) startInfrastructure(ctx context.Context) error {
	if o.Backend.UseRouter {
		o.Log.Debug().Msg("router mode, skipping head infrastructure")
		return nil
	}

	head := o.Runtime.Nodes.Head
	headIP := o.Runtime.HeadNodeIP
	cmd := []string{"sh", "-c", fmt.Sprintf(
		"nats-server --jetstream --store_dir /tmp/nats & "+
			"etcd --data-dir /tmp/etcd"+
			" --listen-client-urls http://0.0.0.0:%d --advertise-client-urls http://%s:%d"+
			" --listen-peer-urls http://0.0.0.0:%d & wait",
		EtcdClientPort, headIP, EtcdClientPort, EtcdPeerPort)}

	if err := o.startProcess(ctx, "head_infrastructure", head, cmd, nil); err != nil {
		return err
	}

	for _, port := range o.InfraPorts {
		if err := waitForPort(ctx, headIP, port, o.PortAttempts, o.PortInterval); err != nil {
			return err
		}
	}
	o.Log.Info().Str("node", head).Msg("head infrastructure ready")
	o.Reporter.Stage(o.Registry.JobID(), contract.StatusInfraReady, contract.StageInfrastructure, "nats and etcd ready")
	return nil
}

// startWorkers launches every serving process, leaders first within each
// endpoint. All workers are critical.
func (o *Orchestrator) startWorkers(ctx context.Context) error {
	for _, pl := range o.placements {
		ep := pl.Endpoint
		leaderIP := o.ResolveIP(ep.LeaderNode())
		for _, p := range pl.Processes {
			if err := ctx.Err(); err != nil {
				return err
			}

			name := p.Name()
			dumpPath := ""
			if p.NodeRank == 0 {
				dumpPath = "/logs/" + name + "_config.json"
			}

			env := o.infraEnv()
			env["HEAD_NODE_IP"] = o.Runtime.HeadNodeIP
			env["DYN_SYSTEM_ENABLED"] = "true"
			env["DYN_SYSTEM_PORT"] = fmt.Sprint(p.SysPort)
			if p.RestrictsGPUs(o.Runtime.GPUsPerNode) {
				env["CUDA_VISIBLE_DEVICES"] = p.CUDAVisibleDevices()
			}

			cmd := o.Backend.WorkerCommand(p, ep, leaderIP, dumpPath)
			if err := o.startProcess(ctx, name, p.Node, cmd, env); err != nil {
				return err
			}
		}
	}

	o.Log.Info().Int("count", o.processCount()).Msg("workers started")
	o.Reporter.Stage(o.Registry.JobID(), contract.StatusWorkersReady, contract.StageWorkers, "all workers launched")
	return nil
}

// infraEnv points a launched process at the head node's etcd and NATS.
func (o *Orchestrator) infraEnv() map[string]string {
	return map[string]string{
		"ETCD_ENDPOINTS": fmt.Sprintf("http://%s:%d", o.Runtime.HeadNodeIP, EtcdClientPort),
		"NATS_SERVER":    fmt.Sprintf("nats://%s:%d", o.Runtime.HeadNodeIP, NatsPort),
	}
}

// startFrontend launches the dynamo frontend, or the sglang router in
// router mode, on the head node and waits for its port. The dynamo
// frontend discovers workers through etcd and NATS, so it gets the same
// infrastructure env the workers do; the router needs neither.
func (o *Orchestrator) startFrontend(ctx context.Context) error {
	var cmd []string
	var env map[string]string
	if o.Backend.UseRouter {
		cmd = o.Backend.RouterCommand(o.endpointList(), o.ResolveIP)
	} else {
		cmd = o.Backend.FrontendCommand()
		env = o.infraEnv()
	}

	if err := o.startProcess(ctx, "frontend", o.Runtime.Nodes.Head, cmd, env); err != nil {
		return err
	}
	if err := waitForPort(ctx, o.Runtime.HeadNodeIP, o.FrontendPort, o.PortAttempts, o.PortInterval); err != nil {
		return err
	}
	o.Log.Info().Str("url", o.frontendURL()).Msg("frontend listening")
	return nil
}

// runBenchmark waits until every worker has registered with the
// frontend, then holds the job open: the run ends when the operator
// cancels it or a critical process dies.
func (o *Orchestrator) runBenchmark(ctx context.Context) error {
	if err := waitForHealth(ctx, o.httpClient, o.frontendURL(), len(o.placements), o.HealthAttempts, o.HealthInterval); err != nil {
		return err
	}

	o.Log.Info().Str("url", o.frontendURL()).Msg("serving is ready, running until stopped")
	o.Reporter.Stage(o.Registry.JobID(), contract.StatusRunning, contract.StageBenchmark, "serving ready")

	ticker := time.NewTicker(o.BenchmarkPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if o.Registry.CheckFailures() {
				return fmt.Errorf("critical process failed")
			}
			// Operator stop: a manual run ending on request is a success.
			return nil
		case <-ticker.C:
			if o.Registry.CheckFailures() {
				return fmt.Errorf("critical process failed")
			}
		}
	}
}

// startProcess launches one command on a node and registers it as a
// critical process.
func (o *Orchestrator) startProcess(ctx context.Context, name, node string, cmd []string, env map[string]string) error {
	out := o.logPath(name)
	h, err := o.Starter.Start(ctx, launcher.Spec{
		Command:         cmd,
		Nodes:           []string{node},
		Output:          out,
		Env:             env,
		ContainerImage:  o.Runtime.ContainerImage,
		ContainerMounts: o.Runtime.ContainerMounts,
	})
	if err != nil {
		return fmt.Errorf("start %s on %s: %w", name, node, err)
	}
	return o.Registry.Add(registry.NewManagedProcess(name, node, out, true, h))
}

func (o *Orchestrator) logPath(name string) string {
	return filepath.Join(o.Runtime.LogDir, fmt.Sprintf("%s_%s.log", name, o.Registry.JobID()))
}

func (o *Orchestrator) frontendURL() string {
	if o.FrontendURL != "" {
		return o.FrontendURL
	}
	return fmt.Sprintf("http://%s:%d", o.Runtime.HeadNodeIP, o.FrontendPort)
}

func (o *Orchestrator) setStage(s Stage) {
	o.mu.Lock()
	o.stage = s
	o.mu.Unlock()
}

// CurrentStage returns the stage the run is in, for the status API.
func (o *Orchestrator) CurrentStage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// StatusSnapshot is the live view served by the status API.
type StatusSnapshot struct {
	JobID     string                  `json:"job_id"`
	RunName   string                  `json:"run_name"`
	Stage     Stage                   `json:"stage"`
	Processes []registry.ProcessState `json:"processes"`
}

// Status captures the current run state.
func (o *Orchestrator) Status() StatusSnapshot {
	return StatusSnapshot{
		JobID:     o.Registry.JobID(),
		RunName:   o.Runtime.RunName,
		Stage:     o.CurrentStage(),
		Processes: o.Registry.Snapshot(),
	}
}
