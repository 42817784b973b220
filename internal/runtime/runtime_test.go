package runtime

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/elvischenv/srt-slurm/internal/config"
)

func TestExpandNodeList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"gb200-01", []string{"gb200-01"}},
		{"gb200-[01-03]", []string{"gb200-01", "gb200-02", "gb200-03"}},
		{"gb200-[01-02,07]", []string{"gb200-01", "gb200-02", "gb200-07"}},
		{"h100-[1-3]", []string{"h100-1", "h100-2", "h100-3"}},
		{"a-[01-02],login1", []string{"a-01", "a-02", "login1"}},
		{"n[1-2]g", []string{"n1g", "n2g"}},
		{"weird[zz]", []string{"weirdzz"}},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got := ExpandNodeList(tc.raw)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("ExpandNodeList(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNodesFromList(t *testing.T) {
	nodes, err := NodesFromList([]string{"n1", "n2", "n3"}, false)
	if err != nil {
		t.Fatalf("NodesFromList: %v", err)
	}
	if nodes.Head != "n1" || nodes.Bench != "n1" || len(nodes.Worker) != 3 {
		t.Fatalf("unexpected shared-head assignment: %+v", nodes)
	}

	nodes, err = NodesFromList([]string{"n1", "n2", "n3"}, true)
	if err != nil {
		t.Fatalf("NodesFromList separate: %v", err)
	}
	if nodes.Bench != "n1" || nodes.Head != "n2" {
		t.Fatalf("unexpected separate-bench assignment: %+v", nodes)
	}
	if len(nodes.Worker) != 2 || nodes.Worker[0] != "n2" {
		t.Fatalf("unexpected workers: %v", nodes.Worker)
	}

	if _, err := NodesFromList(nil, false); err == nil {
		t.Fatal("expected error for empty nodelist")
	}
	if _, err := NodesFromList([]string{"only"}, true); err == nil {
		t.Fatal("expected error for separate bench with one node")
	}
}

func testJobConfig() *config.JobConfig {
	return &config.JobConfig{
		Name:  "bench",
		Model: config.ModelConfig{Path: "/models/m", Container: "/images/c.sqsh"},
		Resources: config.ResourceConfig{
			GPUsPerNode:    4,
			PrefillNodes:   2,
			PrefillWorkers: 1,
			DecodeNodes:    1,
			DecodeWorkers:  1,
		},
		ExtraMount: []string{"/data/traces:/traces"},
	}
}

func TestNewContext(t *testing.T) {
	nodes := Nodes{Head: "n1", Bench: "n1", Worker: []string{"n1", "n2", "n3"}}
	ctx, err := NewContext(testJobConfig(), "12345", nodes, t.TempDir())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	if ctx.RunName != "bench_12345" {
		t.Fatalf("run name = %q", ctx.RunName)
	}
	base := filepath.Base(ctx.LogDir)
	if !strings.HasPrefix(base, "12345_1P_1D_") {
		t.Fatalf("log dir name = %q, want 12345_1P_1D_<timestamp>", base)
	}
	if ctx.ResultsDir != filepath.Join(ctx.LogDir, "results") {
		t.Fatalf("results dir = %q", ctx.ResultsDir)
	}

	mounts := ctx.MountsString()
	for _, want := range []string{"/model", "/logs", "/results", "/data/traces:/traces"} {
		if !strings.Contains(mounts, want) {
			t.Fatalf("mounts %q missing %q", mounts, want)
		}
	}
}

func TestNewContextAggregatedNaming(t *testing.T) {
	cfg := testJobConfig()
	cfg.Resources = config.ResourceConfig{GPUsPerNode: 4, AggNodes: 2, AggWorkers: 2}
	ctx, err := NewContext(cfg, "99", Nodes{Head: "n1", Bench: "n1", Worker: []string{"n1"}}, t.TempDir())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(ctx.LogDir), "99_2A_") {
		t.Fatalf("log dir name = %q, want 99_2A_<timestamp>", filepath.Base(ctx.LogDir))
	}
}

func TestJobIDOrLocal(t *testing.T) {
	t.Setenv("SLURM_JOB_ID", "777")
	if id := JobIDOrLocal(); id != "777" {
		t.Fatalf("JobIDOrLocal = %q, want 777", id)
	}
	t.Setenv("SLURM_JOB_ID", "")
	t.Setenv("SLURM_JOBID", "")
	if id := JobIDOrLocal(); !strings.HasPrefix(id, "local-") {
		t.Fatalf("JobIDOrLocal = %q, want local- prefix", id)
	}
}
