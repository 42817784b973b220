package submit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/internal/report"
)

func testConfig(name string) *config.JobConfig {
	return &config.JobConfig{
		Name:  name,
		Model: config.ModelConfig{Path: "/models/m", Container: "/images/c.sqsh"},
		Resources: config.ResourceConfig{
			GPUsPerNode:    4,
			PrefillNodes:   2,
			PrefillWorkers: 1,
			DecodeNodes:    1,
			DecodeWorkers:  1,
		},
		Slurm: config.SlurmConfig{Account: "dev", Partition: "batch", TimeLimit: "01:00:00"},
	}
}

func testSubmitter(t *testing.T, output string, execErr error) (*Submitter, *[][]string) {
	t.Helper()
	var calls [][]string
	s := New(t.TempDir(), report.New(&config.JobConfig{}, zerolog.Nop()), zerolog.Nop())
	s.execCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return []byte(output), execErr
	}
	return s, &calls
}

func TestBuildScript(t *testing.T) {
	s, _ := testSubmitter(t, "", nil)
	script := s.BuildScript(testConfig("bench"), "/sub/config.yaml", "/sub")

	for _, want := range []string{
		"#!/bin/bash",
		"#SBATCH --job-name=srtctl_bench",
		"#SBATCH --nodes=3",
		"#SBATCH --account=dev",
		"#SBATCH --partition=batch",
		"#SBATCH --time=01:00:00",
		"#SBATCH --exclusive",
		"exec srtctl run /sub/config.yaml",
	} {
		assert.Contains(t, script, want)
	}
}

func TestBuildScriptDefaults(t *testing.T) {
	cfg := testConfig("bench")
	cfg.Slurm = config.SlurmConfig{}
	s, _ := testSubmitter(t, "", nil)
	script := s.BuildScript(cfg, "/sub/config.yaml", "/sub")

	assert.Contains(t, script, "#SBATCH --time="+defaultTimeLimit)
	assert.NotContains(t, script, "--account")
	assert.NotContains(t, script, "--partition")
}

func TestSubmitParsesJobID(t *testing.T) {
	s, calls := testSubmitter(t, "Submitted batch job 98765\n", nil)

	res, err := s.Submit(context.Background(), testConfig("bench"), false, []string{"nightly"})
	require.NoError(t, err)
	assert.Equal(t, "98765", res.JobID)

	require.Len(t, *calls, 1)
	assert.Equal(t, "sbatch", (*calls)[0][0])
	assert.Equal(t, res.ScriptPath, (*calls)[0][1])

	// Artifacts: materialized config, script, metadata.
	for _, f := range []string{"config.yaml", "job.sbatch", "98765.json"} {
		if _, err := os.Stat(filepath.Join(res.Dir, f)); err != nil {
			t.Fatalf("missing artifact %s: %v", f, err)
		}
	}
	meta, err := os.ReadFile(filepath.Join(res.Dir, "98765.json"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"nightly"`)
}

func TestSubmitDryRun(t *testing.T) {
	s, calls := testSubmitter(t, "", nil)

	res, err := s.Submit(context.Background(), testConfig("bench"), true, nil)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Empty(t, res.JobID)
	assert.Empty(t, *calls, "dry run must not invoke sbatch")

	script, err := os.ReadFile(res.ScriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(script), "exec srtctl run "+res.ConfigPath)
}

func TestSubmitFailure(t *testing.T) {
	s, _ := testSubmitter(t, "sbatch: error: invalid partition", fmt.Errorf("exit status 1"))
	_, err := s.Submit(context.Background(), testConfig("bench"), false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition")
}

func TestSubmitAll(t *testing.T) {
	s, calls := testSubmitter(t, "Submitted batch job 1\n", nil)
	jobs := []config.SweepJob{
		{Config: testConfig("bench_a")},
		{Config: testConfig("bench_b")},
	}

	results, err := s.SubmitAll(context.Background(), jobs, false, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Len(t, *calls, 2)
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		out     string
		want    string
		wantErr bool
	}{
		{"Submitted batch job 12345", "12345", false},
		{"warning: something\nSubmitted batch job 7\n", "7", false},
		{"nope", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := parseJobID(tc.out)
		if tc.wantErr {
			assert.Error(t, err, tc.out)
			continue
		}
		require.NoError(t, err, tc.out)
		assert.Equal(t, tc.want, got)
	}
}

func TestSubmitMaterializedConfigRoundTrips(t *testing.T) {
	s, _ := testSubmitter(t, "Submitted batch job 5\n", nil)
	res, err := s.Submit(context.Background(), testConfig("bench"), true, nil)
	require.NoError(t, err)

	loaded, err := config.Load(res.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "bench", loaded.Name)
	assert.Equal(t, 2, loaded.Resources.PrefillNodes)
	assert.True(t, strings.HasSuffix(res.ConfigPath, "config.yaml"))
}
