package config

import (
	"fmt"
	"strings"
)

// JobConfig is the validated, immutable description of one job. It is
// the only place loosely-typed recipe data is interpreted; everything
// downstream consumes these structs.
type JobConfig struct {
	Name       string          `json:"name" yaml:"name" toml:"name"`
	Model      ModelConfig     `json:"model" yaml:"model" toml:"model"`
	Resources  ResourceConfig  `json:"resources" yaml:"resources" toml:"resources"`
	Backend    BackendConfig   `json:"backend" yaml:"backend" toml:"backend"`
	Frontend   FrontendConfig  `json:"frontend" yaml:"frontend" toml:"frontend"`
	Benchmark  BenchmarkConfig `json:"benchmark" yaml:"benchmark" toml:"benchmark"`
	Slurm      SlurmConfig     `json:"slurm" yaml:"slurm" toml:"slurm"`
	Reporting  ReportingConfig `json:"reporting" yaml:"reporting" toml:"reporting"`
	ExtraMount []string        `json:"extra_mount" yaml:"extra_mount" toml:"extra_mount"`
}

type ModelConfig struct {
	Path      string `json:"path" yaml:"path" toml:"path"`
	Container string `json:"container" yaml:"container" toml:"container"`
	Precision string `json:"precision" yaml:"precision" toml:"precision"`
}

// ResourceConfig is the declarative resource request: node and worker
// counts per role plus the node GPU width.
type ResourceConfig struct {
	GPUsPerNode int    `json:"gpus_per_node" yaml:"gpus_per_node" toml:"gpus_per_node"`
	GPUType     string `json:"gpu_type" yaml:"gpu_type" toml:"gpu_type"`

	PrefillNodes   int `json:"prefill_nodes" yaml:"prefill_nodes" toml:"prefill_nodes"`
	PrefillWorkers int `json:"prefill_workers" yaml:"prefill_workers" toml:"prefill_workers"`
	DecodeNodes    int `json:"decode_nodes" yaml:"decode_nodes" toml:"decode_nodes"`
	DecodeWorkers  int `json:"decode_workers" yaml:"decode_workers" toml:"decode_workers"`
	AggNodes       int `json:"agg_nodes" yaml:"agg_nodes" toml:"agg_nodes"`
	AggWorkers     int `json:"agg_workers" yaml:"agg_workers" toml:"agg_workers"`
}

type BackendConfig struct {
	Type   string       `json:"type" yaml:"type" toml:"type"`
	SGLang SGLangConfig `json:"sglang_config" yaml:"sglang_config" toml:"sglang_config"`
}

// SGLangConfig carries per-mode flag maps merged on top of Shared when a
// worker command is built.
type SGLangConfig struct {
	Shared     map[string]any `json:"shared" yaml:"shared" toml:"shared"`
	Prefill    map[string]any `json:"prefill" yaml:"prefill" toml:"prefill"`
	Decode     map[string]any `json:"decode" yaml:"decode" toml:"decode"`
	Aggregated map[string]any `json:"aggregated" yaml:"aggregated" toml:"aggregated"`
}

type FrontendConfig struct {
	UseSGLangRouter    bool           `json:"use_sglang_router" yaml:"use_sglang_router" toml:"use_sglang_router"`
	DynamoFrontendArgs map[string]any `json:"dynamo_frontend_args" yaml:"dynamo_frontend_args" toml:"dynamo_frontend_args"`
	SGLangRouterArgs   map[string]any `json:"sglang_router_args" yaml:"sglang_router_args" toml:"sglang_router_args"`
}

type BenchmarkConfig struct {
	Type string `json:"type" yaml:"type" toml:"type"`
}

type SlurmConfig struct {
	Account   string `json:"account" yaml:"account" toml:"account"`
	Partition string `json:"partition" yaml:"partition" toml:"partition"`
	TimeLimit string `json:"time_limit" yaml:"time_limit" toml:"time_limit"`
}

type ReportingConfig struct {
	Status ReportingStatusConfig `json:"status" yaml:"status" toml:"status"`
}

type ReportingStatusConfig struct {
	Endpoint  string   `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Endpoints []string `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

// BenchmarkManual blocks the benchmark stage until the operator stops
// the job; it is the only benchmark type besides "" (treated as manual).
const BenchmarkManual = "manual"

// Aggregated reports whether the job runs aggregated workers instead of
// the disaggregated prefill/decode pair.
func (c *JobConfig) Aggregated() bool { return c.Resources.AggWorkers > 0 }

// TotalWorkers is the number of endpoints across all roles.
func (c *JobConfig) TotalWorkers() int {
	return c.Resources.PrefillWorkers + c.Resources.DecodeWorkers + c.Resources.AggWorkers
}

// TotalNodes is the node count the job requests from SLURM.
func (c *JobConfig) TotalNodes() int {
	return c.Resources.PrefillNodes + c.Resources.DecodeNodes + c.Resources.AggNodes
}

// GPUsPerPrefill resolves the per-endpoint GPU requirement for prefill
// workers from the node counts.
func (c *JobConfig) GPUsPerPrefill() int {
	return gpusPerWorker(c.Resources.PrefillNodes, c.Resources.PrefillWorkers, c.Resources.GPUsPerNode)
}

func (c *JobConfig) GPUsPerDecode() int {
	return gpusPerWorker(c.Resources.DecodeNodes, c.Resources.DecodeWorkers, c.Resources.GPUsPerNode)
}

func (c *JobConfig) GPUsPerAgg() int {
	return gpusPerWorker(c.Resources.AggNodes, c.Resources.AggWorkers, c.Resources.GPUsPerNode)
}

func gpusPerWorker(nodes, workers, gpusPerNode int) int {
	if workers <= 0 {
		return gpusPerNode
	}
	return nodes * gpusPerNode / workers
}

// StatusEndpoints merges endpoint + endpoints into a deduplicated list
// with trailing slashes stripped.
func (c *JobConfig) StatusEndpoints() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ep string) {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" || seen[ep] {
			return
		}
		seen[ep] = true
		out = append(out, ep)
	}
	add(c.Reporting.Status.Endpoint)
	for _, ep := range c.Reporting.Status.Endpoints {
		add(ep)
	}
	return out
}

// Validate checks the config at the system boundary so the core never
// sees invalid data.
func (c *JobConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Model.Path == "" {
		return fmt.Errorf("model.path is required")
	}
	if c.Model.Container == "" {
		return fmt.Errorf("model.container is required")
	}
	if c.Backend.Type != "" && c.Backend.Type != "sglang" {
		return fmt.Errorf("unsupported backend type %q", c.Backend.Type)
	}
	if c.Benchmark.Type != "" && c.Benchmark.Type != BenchmarkManual {
		return fmt.Errorf("unsupported benchmark type %q", c.Benchmark.Type)
	}

	r := c.Resources
	if r.GPUsPerNode <= 0 {
		return fmt.Errorf("resources.gpus_per_node must be positive, got %d", r.GPUsPerNode)
	}
	if c.TotalWorkers() == 0 {
		return fmt.Errorf("resources must request at least one worker")
	}
	if r.AggWorkers > 0 && (r.PrefillWorkers > 0 || r.DecodeWorkers > 0) {
		return fmt.Errorf("aggregated and disaggregated workers are mutually exclusive")
	}

	for _, role := range []struct {
		name    string
		nodes   int
		workers int
	}{
		{"prefill", r.PrefillNodes, r.PrefillWorkers},
		{"decode", r.DecodeNodes, r.DecodeWorkers},
		{"agg", r.AggNodes, r.AggWorkers},
	} {
		if role.workers > 0 && role.nodes <= 0 {
			return fmt.Errorf("resources.%s_nodes is required when %s_workers is set", role.name, role.name)
		}
		if role.workers == 0 && role.nodes > 0 {
			return fmt.Errorf("resources.%s_workers is required when %s_nodes is set", role.name, role.name)
		}
		if role.workers > 0 && (role.nodes*r.GPUsPerNode)%role.workers != 0 {
			return fmt.Errorf("%s: %d nodes x %d GPUs does not divide evenly across %d workers",
				role.name, role.nodes, r.GPUsPerNode, role.workers)
		}
	}

	for _, mount := range c.ExtraMount {
		if !strings.Contains(mount, ":") {
			return fmt.Errorf("extra_mount %q must be host:container", mount)
		}
	}
	return nil
}
