package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBasePort is the first control port handed out by BuildProcesses.
const DefaultBasePort = 8081

// Process is one physical worker derived from an endpoint: the unit that
// actually gets launched on a node. Immutable.
type Process struct {
	Node          string
	NodeRank      int
	GPUIndices    []int
	Mode          Mode
	EndpointIndex int
	SysPort       int
}

// Name returns the registry name for the process, unique within a job.
func (p Process) Name() string {
	return fmt.Sprintf("%s_%d_%s", p.Mode, p.EndpointIndex, p.Node)
}

// CUDAVisibleDevices renders the GPU indices as a device mask value.
func (p Process) CUDAVisibleDevices() string {
	parts := make([]string, len(p.GPUIndices))
	for i, idx := range p.GPUIndices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ",")
}

// RestrictsGPUs reports whether the process owns fewer GPUs than the node
// has, in which case a device mask must be set on launch.
func (p Process) RestrictsGPUs(gpusPerNode int) bool {
	return len(p.GPUIndices) < gpusPerNode
}

// Placement binds one endpoint to its ordered worker processes. The
// endpoint owns its process list outright; callers never regroup a flat
// process list by (mode, index) themselves.
type Placement struct {
	Endpoint  Endpoint
	Processes []Process
}

// BuildPlacements expands endpoints into one process per (endpoint,
// node) pair, preserving endpoint order and increasing node rank within
// each endpoint. SysPort is basePort plus a counter over the whole job,
// so every process gets a distinct control port.
func BuildPlacements(endpoints []Endpoint, basePort int) []Placement {
	placements := make([]Placement, 0, len(endpoints))
	port := basePort

	for _, ep := range endpoints {
		gpusPerNode := ep.TotalGPUs / ep.NumNodes()
		procs := make([]Process, 0, ep.NumNodes())
		for rank, node := range ep.Nodes {
			gpus := make([]int, gpusPerNode)
			for i := range gpus {
				gpus[i] = i
			}
			procs = append(procs, Process{
				Node:          node,
				NodeRank:      rank,
				GPUIndices:    gpus,
				Mode:          ep.Mode,
				EndpointIndex: ep.Index,
				SysPort:       port,
			})
			port++
		}
		placements = append(placements, Placement{Endpoint: ep, Processes: procs})
	}

	return placements
}

// BuildProcesses flattens BuildPlacements into the job-wide process
// list, in launch order.
func BuildProcesses(endpoints []Endpoint, basePort int) []Process {
	var processes []Process
	for _, pl := range BuildPlacements(endpoints, basePort) {
		processes = append(processes, pl.Processes...)
	}
	return processes
}
