// Package runtime computes the per-job context once at startup: node
// roles, resolved paths, and container mounts. It is passed explicitly to
// every component so nothing reads ambient state mid-run.
package runtime

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elvischenv/srt-slurm/internal/config"
)

// Nodes assigns cluster roles: the head node runs infrastructure and the
// frontend, the bench node runs the benchmark client, and workers run the
// serving processes.
type Nodes struct {
	Head   string
	Bench  string
	Worker []string
}

// NodesFromList derives role assignment from an ordered node list. With
// benchSeparate the first node is reserved for the benchmark client and
// the rest serve; otherwise the head node does double duty.
func NodesFromList(nodelist []string, benchSeparate bool) (Nodes, error) {
	if len(nodelist) == 0 {
		return Nodes{}, fmt.Errorf("empty nodelist")
	}
	if benchSeparate {
		if len(nodelist) < 2 {
			return Nodes{}, fmt.Errorf("separate benchmark node requires at least 2 nodes, got %d", len(nodelist))
		}
		return Nodes{Head: nodelist[1], Bench: nodelist[0], Worker: nodelist[1:]}, nil
	}
	return Nodes{Head: nodelist[0], Bench: nodelist[0], Worker: nodelist}, nil
}

// Context is the single source of truth for runtime values: identifiers,
// node topology, and absolute paths. Built once via NewContext and
// treated as immutable afterwards.
type Context struct {
	JobID   string
	RunName string

	Nodes      Nodes
	HeadNodeIP string

	LogDir         string
	ResultsDir     string
	ModelPath      string
	ContainerImage string

	GPUsPerNode int

	// ContainerMounts maps host paths to container paths.
	ContainerMounts map[string]string
}

// NewContext computes all runtime values for a job. logDirBase defaults
// to ./logs. The log directory is created here and named
// {job_id}_{P}P_{D}D_{timestamp} (or {A}A for aggregated jobs).
func NewContext(cfg *config.JobConfig, jobID string, nodes Nodes, logDirBase string) (*Context, error) {
	if logDirBase == "" {
		logDirBase = "logs"
	}

	var suffix string
	if cfg.Aggregated() {
		suffix = fmt.Sprintf("%dA", cfg.Resources.AggWorkers)
	} else {
		suffix = fmt.Sprintf("%dP_%dD", cfg.Resources.PrefillWorkers, cfg.Resources.DecodeWorkers)
	}
	timestamp := time.Now().Format("20060102_150405")
	logDir, err := filepath.Abs(filepath.Join(logDirBase, fmt.Sprintf("%s_%s_%s", jobID, suffix, timestamp)))
	if err != nil {
		return nil, err
	}
	resultsDir := filepath.Join(logDir, "results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	modelPath, err := filepath.Abs(os.ExpandEnv(cfg.Model.Path))
	if err != nil {
		return nil, err
	}
	containerImage, err := filepath.Abs(os.ExpandEnv(cfg.Model.Container))
	if err != nil {
		return nil, err
	}

	mounts := map[string]string{
		modelPath:  "/model",
		logDir:     "/logs",
		resultsDir: "/results",
	}
	for _, spec := range cfg.ExtraMount {
		host, container, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid extra mount %q", spec)
		}
		abs, err := filepath.Abs(host)
		if err != nil {
			return nil, err
		}
		mounts[abs] = container
	}

	return &Context{
		JobID:           jobID,
		RunName:         fmt.Sprintf("%s_%s", cfg.Name, jobID),
		Nodes:           nodes,
		HeadNodeIP:      ResolveHostIP(nodes.Head),
		LogDir:          logDir,
		ResultsDir:      resultsDir,
		ModelPath:       modelPath,
		ContainerImage:  containerImage,
		GPUsPerNode:     cfg.Resources.GPUsPerNode,
		ContainerMounts: mounts,
	}, nil
}

// JobIDOrLocal returns the SLURM job id, or a generated local id for
// runs outside an allocation.
func JobIDOrLocal() string {
	if id := SlurmJobID(); id != "" {
		return id
	}
	return "local-" + uuid.NewString()[:8]
}

// ResolveHostIP resolves a hostname to its first address, falling back
// to the hostname itself (it may already be an address).
func ResolveHostIP(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}
	return addrs[0]
}

// MountsString renders container mounts as the comma-separated host:dest
// form srun expects, in sorted order for reproducible commands.
func (c *Context) MountsString() string {
	keys := make([]string, 0, len(c.ContainerMounts))
	for k := range c.ContainerMounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+c.ContainerMounts[k])
	}
	return strings.Join(parts, ",")
}
