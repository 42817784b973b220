package topology

import "fmt"

// Mode identifies the serving role of an endpoint.
type Mode string

const (
	ModePrefill Mode = "prefill"
	ModeDecode  Mode = "decode"
	ModeAgg     Mode = "agg"
)

// Endpoint is one logical serving unit: a single worker of a given role,
// possibly spanning multiple nodes. Immutable once allocated.
type Endpoint struct {
	Mode      Mode
	Index     int
	Nodes     []string
	TotalGPUs int
}

// LeaderNode returns the first node of the endpoint, used as the
// distributed-init address for multi-node workers.
func (e Endpoint) LeaderNode() string { return e.Nodes[0] }

// NumNodes returns how many nodes the endpoint spans.
func (e Endpoint) NumNodes() int { return len(e.Nodes) }

// AllocationRequest describes the resources to allocate across the
// available nodes. Counts of zero mean the role is absent.
type AllocationRequest struct {
	NumPrefill int
	NumDecode  int
	NumAgg     int

	GPUsPerPrefill int
	GPUsPerDecode  int
	GPUsPerAgg     int

	GPUsPerNode    int
	AvailableNodes []string
}

// roleRequest is one (mode, count, gpus-per-endpoint) triple in the fixed
// allocation order.
type roleRequest struct {
	mode  Mode
	count int
	gpus  int
}

func (r AllocationRequest) roles() []roleRequest {
	return []roleRequest{
		{ModePrefill, r.NumPrefill, r.GPUsPerPrefill},
		{ModeDecode, r.NumDecode, r.GPUsPerDecode},
		{ModeAgg, r.NumAgg, r.GPUsPerAgg},
	}
}

// Allocate maps role counts and GPU requirements onto the ordered node
// list. Roles are processed prefill, then decode, then agg, consuming
// nodes left to right with a single cursor; nodes are never reused or
// wrapped. The result is deterministic for identical inputs.
//
// An endpoint whose GPU requirement fits on one node consumes exactly one
// node. A larger requirement must be an exact multiple of GPUsPerNode and
// consumes requirement/GPUsPerNode consecutive nodes, the first of which
// becomes the leader.
func Allocate(req AllocationRequest) ([]Endpoint, error) {
	if req.GPUsPerNode <= 0 {
		return nil, configError{fmt.Sprintf("gpus_per_node must be positive, got %d", req.GPUsPerNode)}
	}

	var endpoints []Endpoint
	cursor := 0

	for _, role := range req.roles() {
		if role.count == 0 {
			continue
		}
		if role.gpus <= 0 {
			return nil, configError{fmt.Sprintf("%s requires a positive GPU count, got %d", role.mode, role.gpus)}
		}

		nodesPerEndpoint := 1
		if role.gpus > req.GPUsPerNode {
			if role.gpus%req.GPUsPerNode != 0 {
				return nil, configError{fmt.Sprintf(
					"%s GPU requirement %d is not divisible by gpus_per_node %d",
					role.mode, role.gpus, req.GPUsPerNode)}
			}
			nodesPerEndpoint = role.gpus / req.GPUsPerNode
		}

		for i := 0; i < role.count; i++ {
			if cursor+nodesPerEndpoint > len(req.AvailableNodes) {
				return nil, insufficientResourcesError{fmt.Sprintf(
					"not enough nodes for %s endpoint %d: need %d more, %d left of %d",
					role.mode, i, nodesPerEndpoint, len(req.AvailableNodes)-cursor, len(req.AvailableNodes))}
			}
			nodes := make([]string, nodesPerEndpoint)
			copy(nodes, req.AvailableNodes[cursor:cursor+nodesPerEndpoint])
			cursor += nodesPerEndpoint

			endpoints = append(endpoints, Endpoint{
				Mode:      role.mode,
				Index:     i,
				Nodes:     nodes,
				TotalGPUs: role.gpus,
			})
		}
	}

	return endpoints, nil
}
