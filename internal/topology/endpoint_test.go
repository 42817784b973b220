package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rackNodes(n int) []string {
	nodes := make([]string, n)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("n%d", i+1)
	}
	return nodes
}

func TestAllocateMultiNodePrefill(t *testing.T) {
	// 2 prefill x 8 GPUs on 4-GPU nodes: each endpoint spans 2 nodes.
	endpoints, err := Allocate(AllocationRequest{
		NumPrefill:     2,
		GPUsPerPrefill: 8,
		GPUsPerNode:    4,
		AvailableNodes: rackNodes(8),
	})
	require.NoError(t, err)
	require.Len(t, endpoints, 2)

	assert.Equal(t, []string{"n1", "n2"}, endpoints[0].Nodes)
	assert.Equal(t, []string{"n3", "n4"}, endpoints[1].Nodes)
	for _, ep := range endpoints {
		assert.Equal(t, ModePrefill, ep.Mode)
		assert.Equal(t, 8, ep.TotalGPUs)
		assert.Equal(t, 2, ep.NumNodes())
		assert.Equal(t, ep.Nodes[0], ep.LeaderNode())
	}
}

func TestAllocateSingleNodeDecode(t *testing.T) {
	endpoints, err := Allocate(AllocationRequest{
		NumDecode:      3,
		GPUsPerDecode:  4,
		GPUsPerNode:    4,
		AvailableNodes: []string{"n5", "n6", "n7"},
	})
	require.NoError(t, err)
	require.Len(t, endpoints, 3)
	for i, ep := range endpoints {
		assert.Equal(t, ModeDecode, ep.Mode)
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, []string{fmt.Sprintf("n%d", i+5)}, ep.Nodes)
		assert.Equal(t, 4, ep.TotalGPUs)
	}
}

func TestAllocateRoleOrdering(t *testing.T) {
	// Roles are always allocated prefill -> decode -> agg regardless of
	// how the request is phrased.
	endpoints, err := Allocate(AllocationRequest{
		NumPrefill:     2,
		NumDecode:      2,
		NumAgg:         1,
		GPUsPerPrefill: 4,
		GPUsPerDecode:  4,
		GPUsPerAgg:     4,
		GPUsPerNode:    4,
		AvailableNodes: rackNodes(5),
	})
	require.NoError(t, err)
	require.Len(t, endpoints, 5)

	var modes []Mode
	for _, ep := range endpoints {
		modes = append(modes, ep.Mode)
	}
	assert.Equal(t, []Mode{ModePrefill, ModePrefill, ModeDecode, ModeDecode, ModeAgg}, modes)
	assert.Equal(t, "n5", endpoints[4].LeaderNode())
}

func TestAllocateDeterministic(t *testing.T) {
	req := AllocationRequest{
		NumPrefill:     2,
		NumDecode:      3,
		GPUsPerPrefill: 8,
		GPUsPerDecode:  4,
		GPUsPerNode:    4,
		AvailableNodes: rackNodes(8),
	}
	first, err := Allocate(req)
	require.NoError(t, err)
	second, err := Allocate(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllocateNodeBudgetNeverExceeded(t *testing.T) {
	cases := []struct {
		name string
		req  AllocationRequest
	}{
		{
			name: "disagg mixed",
			req: AllocationRequest{
				NumPrefill: 2, NumDecode: 2,
				GPUsPerPrefill: 8, GPUsPerDecode: 4,
				GPUsPerNode:    4,
				AvailableNodes: rackNodes(8),
			},
		},
		{
			name: "agg only",
			req: AllocationRequest{
				NumAgg:     4,
				GPUsPerAgg: 8, GPUsPerNode: 8,
				AvailableNodes: rackNodes(13),
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			endpoints, err := Allocate(tc.req)
			require.NoError(t, err)
			used := 0
			for _, ep := range endpoints {
				used += ep.NumNodes()
			}
			assert.LessOrEqual(t, used, len(tc.req.AvailableNodes))
		})
	}
}

func TestAllocateErrors(t *testing.T) {
	cases := []struct {
		name         string
		req          AllocationRequest
		isConfig     bool
		isExhaustion bool
	}{
		{
			name: "gpus not divisible by node size",
			req: AllocationRequest{
				NumPrefill: 1, GPUsPerPrefill: 6,
				GPUsPerNode:    4,
				AvailableNodes: rackNodes(4),
			},
			isConfig: true,
		},
		{
			name:     "zero gpus per node",
			req:      AllocationRequest{NumAgg: 1, GPUsPerAgg: 4},
			isConfig: true,
		},
		{
			name: "zero gpu requirement for requested role",
			req: AllocationRequest{
				NumDecode:      1,
				GPUsPerNode:    8,
				AvailableNodes: rackNodes(2),
			},
			isConfig: true,
		},
		{
			name: "nodes exhausted",
			req: AllocationRequest{
				NumPrefill: 3, GPUsPerPrefill: 8,
				GPUsPerNode:    8,
				AvailableNodes: rackNodes(2),
			},
			isExhaustion: true,
		},
		{
			name: "nodes exhausted for later role",
			req: AllocationRequest{
				NumPrefill: 2, NumDecode: 1,
				GPUsPerPrefill: 4, GPUsPerDecode: 4,
				GPUsPerNode:    4,
				AvailableNodes: rackNodes(2),
			},
			isExhaustion: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Allocate(tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.isConfig, IsConfigError(err))
			assert.Equal(t, tc.isExhaustion, IsInsufficientResources(err))
		})
	}
}

func TestAllocateZeroCountConsumesNothing(t *testing.T) {
	endpoints, err := Allocate(AllocationRequest{
		NumDecode:      1,
		GPUsPerDecode:  4,
		GPUsPerPrefill: 999, // ignored: count is zero
		GPUsPerNode:    4,
		AvailableNodes: []string{"n1"},
	})
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, ModeDecode, endpoints[0].Mode)
	assert.Equal(t, "n1", endpoints[0].LeaderNode())
}
