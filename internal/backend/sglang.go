// Package backend builds the commands that run serving processes inside
// the job's container. Only the SGLang backend exists today; the shapes
// here keep room for others (vLLM, TRT-LLM) without changing callers.
package backend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/internal/topology"
)

const (
	// DistInitPort is the per-endpoint torch distributed init port.
	DistInitPort = 29500
	// ServerPort is where each SGLang leader serves requests.
	ServerPort = 30000
	// BootstrapPort is the disaggregation bootstrap port advertised to the router.
	BootstrapPort = 30001
	// FrontendPort is the HTTP port of the frontend or router on the head node.
	FrontendPort = 8000
)

// SGLang builds worker, frontend, and router commands for SGLang serving.
type SGLang struct {
	ModelPath       string
	ServedModelName string
	Config          config.SGLangConfig
	UseRouter       bool
	FrontendArgs    map[string]any
	RouterArgs      map[string]any
}

// NewSGLang derives the backend from a validated job config and the
// resolved model path.
func NewSGLang(cfg *config.JobConfig, modelPath string) *SGLang {
	return &SGLang{
		ModelPath:       modelPath,
		ServedModelName: filepath.Base(modelPath),
		Config:          cfg.Backend.SGLang,
		UseRouter:       cfg.Frontend.UseSGLangRouter,
		FrontendArgs:    cfg.Frontend.DynamoFrontendArgs,
		RouterArgs:      cfg.Frontend.SGLangRouterArgs,
	}
}

// ConfigForMode merges the shared flag map with the mode-specific one.
func (b *SGLang) ConfigForMode(mode topology.Mode) map[string]any {
	merged := make(map[string]any, len(b.Config.Shared))
	for k, v := range b.Config.Shared {
		merged[k] = v
	}
	var overlay map[string]any
	switch mode {
	case topology.ModePrefill:
		overlay = b.Config.Prefill
	case topology.ModeDecode:
		overlay = b.Config.Decode
	case topology.ModeAgg:
		overlay = b.Config.Aggregated
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// WorkerCommand builds the argv for one worker process. Multi-node
// endpoints get distributed-init coordination flags pointing at the
// endpoint leader.
func (b *SGLang) WorkerCommand(proc topology.Process, ep topology.Endpoint, leaderIP, dumpConfigPath string) []string {
	module := "dynamo.sglang"
	if b.UseRouter {
		module = "sglang.launch_server"
	}

	cmd := []string{
		"python3", "-m", module,
		"--model-path", b.ModelPath,
		"--served-model-name", b.ServedModelName,
		"--host", "0.0.0.0",
	}

	if proc.Mode != topology.ModeAgg && !b.UseRouter {
		cmd = append(cmd, "--disaggregation-mode", string(proc.Mode))
	}

	if ep.NumNodes() > 1 {
		cmd = append(cmd,
			"--dist-init-addr", fmt.Sprintf("%s:%d", leaderIP, DistInitPort),
			"--nnodes", fmt.Sprint(ep.NumNodes()),
			"--node-rank", fmt.Sprint(proc.NodeRank),
		)
	}

	if dumpConfigPath != "" && !b.UseRouter {
		cmd = append(cmd, "--dump-config-to", dumpConfigPath)
	}

	return append(cmd, flagArgs(b.ConfigForMode(proc.Mode))...)
}

// FrontendCommand builds the dynamo frontend argv for the head node.
func (b *SGLang) FrontendCommand() []string {
	cmd := []string{"python3", "-m", "dynamo.frontend", fmt.Sprintf("--http-port=%d", FrontendPort)}
	return append(cmd, flagArgs(b.FrontendArgs)...)
}

// RouterCommand builds the sglang-router argv from the endpoint leaders.
// resolve maps a hostname to the address workers advertised.
func (b *SGLang) RouterCommand(endpoints []topology.Endpoint, resolve func(string) string) []string {
	cmd := []string{"python3", "-m", "sglang_router.launch_router", "--pd-disaggregation"}

	for _, ep := range endpoints {
		if ep.Mode != topology.ModePrefill {
			continue
		}
		cmd = append(cmd, "--prefill",
			fmt.Sprintf("http://%s:%d", resolve(ep.LeaderNode()), ServerPort),
			fmt.Sprint(BootstrapPort))
	}
	for _, ep := range endpoints {
		if ep.Mode != topology.ModeDecode {
			continue
		}
		cmd = append(cmd, "--decode",
			fmt.Sprintf("http://%s:%d", resolve(ep.LeaderNode()), ServerPort))
	}

	cmd = append(cmd, "--host", "0.0.0.0", "--port", fmt.Sprint(FrontendPort))
	return append(cmd, flagArgs(b.RouterArgs)...)
}

// flagArgs renders a config map as sorted CLI flags. Keys are
// snake_case in recipes and kebab-case on the command line. Booleans
// become bare flags when true, lists repeat the value.
func flagArgs(cfg map[string]any) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		flag := "--" + strings.ReplaceAll(k, "_", "-")
		switch v := cfg[k].(type) {
		case nil:
		case bool:
			if v {
				args = append(args, flag)
			}
		case []any:
			args = append(args, flag)
			for _, item := range v {
				args = append(args, fmt.Sprint(item))
			}
		default:
			args = append(args, flag, fmt.Sprint(v))
		}
	}
	return args
}
