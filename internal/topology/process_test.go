package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProcessesCountAndRanks(t *testing.T) {
	endpoints, err := Allocate(AllocationRequest{
		NumPrefill: 2, NumDecode: 3,
		GPUsPerPrefill: 8, GPUsPerDecode: 4,
		GPUsPerNode:    4,
		AvailableNodes: rackNodes(8),
	})
	require.NoError(t, err)

	processes := BuildProcesses(endpoints, DefaultBasePort)

	wantTotal := 0
	for _, ep := range endpoints {
		wantTotal += ep.NumNodes()
	}
	require.Len(t, processes, wantTotal)

	placements := BuildPlacements(endpoints, DefaultBasePort)
	require.Len(t, placements, len(endpoints))
	for _, pl := range placements {
		ep := pl.Endpoint
		require.Len(t, pl.Processes, ep.NumNodes())
		seen := make(map[int]bool)
		for _, p := range pl.Processes {
			assert.False(t, seen[p.NodeRank], "duplicate node rank %d", p.NodeRank)
			seen[p.NodeRank] = true
			assert.Less(t, p.NodeRank, ep.NumNodes())
			assert.Equal(t, ep.Nodes[p.NodeRank], p.Node)
			assert.Equal(t, ep.Mode, p.Mode)
			assert.Equal(t, ep.Index, p.EndpointIndex)
		}
	}
}

func TestBuildProcessesPortsUnique(t *testing.T) {
	endpoints, err := Allocate(AllocationRequest{
		NumPrefill: 1, NumDecode: 2,
		GPUsPerPrefill: 16, GPUsPerDecode: 8,
		GPUsPerNode:    8,
		AvailableNodes: rackNodes(4),
	})
	require.NoError(t, err)

	processes := BuildProcesses(endpoints, 9000)
	ports := make(map[int]bool)
	for i, p := range processes {
		assert.Equal(t, 9000+i, p.SysPort)
		assert.False(t, ports[p.SysPort])
		ports[p.SysPort] = true
	}
}

func TestBuildProcessesGPUSplit(t *testing.T) {
	// A 8-GPU endpoint over two 8-GPU nodes gets 4 GPUs per process and
	// therefore a restricted device mask.
	endpoints, err := Allocate(AllocationRequest{
		NumDecode:      1,
		GPUsPerDecode:  8,
		GPUsPerNode:    8,
		AvailableNodes: rackNodes(1),
	})
	require.NoError(t, err)
	processes := BuildProcesses(endpoints, DefaultBasePort)
	require.Len(t, processes, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, processes[0].GPUIndices)
	assert.False(t, processes[0].RestrictsGPUs(8))

	endpoints = []Endpoint{{Mode: ModePrefill, Index: 0, Nodes: []string{"a", "b"}, TotalGPUs: 8}}
	processes = BuildProcesses(endpoints, DefaultBasePort)
	require.Len(t, processes, 2)
	for _, p := range processes {
		assert.Equal(t, []int{0, 1, 2, 3}, p.GPUIndices)
		assert.True(t, p.RestrictsGPUs(8))
		assert.Equal(t, "0,1,2,3", p.CUDAVisibleDevices())
	}
}

func TestProcessName(t *testing.T) {
	p := Process{Node: "gb200-03", Mode: ModePrefill, EndpointIndex: 1}
	assert.Equal(t, "prefill_1_gb200-03", p.Name())
}
