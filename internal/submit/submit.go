// Package submit turns a job config into a SLURM batch submission: it
// renders the sbatch script, materializes the run artifacts next to the
// logs, and parses the job id sbatch hands back. Dry-run writes the same
// artifacts without submitting anything.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/internal/report"
	"github.com/elvischenv/srt-slurm/pkg/contract"
)

// defaultTimeLimit caps jobs whose config does not set one.
const defaultTimeLimit = "04:00:00"

// Submitter submits jobs via sbatch.
type Submitter struct {
	// LogDirBase is where submission artifacts land, under submissions/.
	LogDirBase string
	// Runner is the argv prefix the batch script execs inside the
	// allocation; the materialized config path is appended.
	Runner   []string
	Reporter *report.Reporter
	Log      zerolog.Logger

	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New returns a Submitter that shells out to sbatch.
func New(logDirBase string, rep *report.Reporter, log zerolog.Logger) *Submitter {
	return &Submitter{
		LogDirBase: logDirBase,
		Runner:     []string{"srtctl", "run"},
		Reporter:   rep,
		Log:        log,
		execCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Result describes one submission: where its artifacts are and, unless
// it was a dry run, the SLURM job id.
type Result struct {
	JobID      string
	Dir        string
	ScriptPath string
	ConfigPath string
	DryRun     bool
}

// Submit materializes the config and sbatch script, then submits unless
// dryRun is set.
func (s *Submitter) Submit(ctx context.Context, cfg *config.JobConfig, dryRun bool, tags []string) (Result, error) {
	dir := filepath.Join(s.LogDirBase, "submissions",
		fmt.Sprintf("%s_%s", cfg.Name, time.Now().Format("20060102_150405")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create submission dir: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	rendered, err := yaml.Marshal(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("render config: %w", err)
	}
	if err := os.WriteFile(configPath, rendered, 0o644); err != nil {
		return Result{}, fmt.Errorf("write config: %w", err)
	}

	scriptPath := filepath.Join(dir, "job.sbatch")
	script := s.BuildScript(cfg, configPath, dir)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return Result{}, fmt.Errorf("write sbatch script: %w", err)
	}

	res := Result{Dir: dir, ScriptPath: scriptPath, ConfigPath: configPath, DryRun: dryRun}
	if dryRun {
		s.Log.Info().Str("script", scriptPath).Msg("dry run, not submitting")
		return res, nil
	}

	out, err := s.execCommand(ctx, "sbatch", scriptPath)
	if err != nil {
		return Result{}, fmt.Errorf("sbatch: %w: %s", err, strings.TrimSpace(string(out)))
	}
	jobID, err := parseJobID(string(out))
	if err != nil {
		return Result{}, err
	}
	res.JobID = jobID

	if err := s.writeMetadata(dir, jobID, cfg, tags); err != nil {
		s.Log.Warn().Err(err).Msg("could not write submission metadata")
	}
	s.Reporter.Create(contract.JobCreatePayload{
		JobID:       jobID,
		JobName:     cfg.Name,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
		Recipe:      configPath,
		Metadata:    metadata(cfg, tags),
	})

	s.Log.Info().Str("job_id", jobID).Str("name", cfg.Name).Int("nodes", cfg.TotalNodes()).Msg("job submitted")
	return res, nil
}

// SubmitAll submits every sweep variant in order, stopping at the first
// failure.
func (s *Submitter) SubmitAll(ctx context.Context, jobs []config.SweepJob, dryRun bool, tags []string) ([]Result, error) {
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		res, err := s.Submit(ctx, job.Config, dryRun, tags)
		if err != nil {
			return results, fmt.Errorf("submit %s: %w", job.Config.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// BuildScript renders the sbatch script. Deterministic for identical
// inputs so scripts diff cleanly between submissions.
func (s *Submitter) BuildScript(cfg *config.JobConfig, configPath, dir string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=srtctl_%s\n", cfg.Name)
	fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", cfg.TotalNodes())
	if cfg.Slurm.Account != "" {
		fmt.Fprintf(&b, "#SBATCH --account=%s\n", cfg.Slurm.Account)
	}
	if cfg.Slurm.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", cfg.Slurm.Partition)
	}
	limit := cfg.Slurm.TimeLimit
	if limit == "" {
		limit = defaultTimeLimit
	}
	fmt.Fprintf(&b, "#SBATCH --time=%s\n", limit)
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", filepath.Join(dir, "slurm_%j.out"))
	b.WriteString("#SBATCH --exclusive\n")
	b.WriteString("\nset -euo pipefail\n")
	fmt.Fprintf(&b, "exec %s %s\n", strings.Join(s.Runner, " "), configPath)
	return b.String()
}

func (s *Submitter) writeMetadata(dir, jobID string, cfg *config.JobConfig, tags []string) error {
	payload := contract.JobCreatePayload{
		JobID:       jobID,
		JobName:     cfg.Name,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata(cfg, tags),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, jobID+".json"), data, 0o644)
}

func metadata(cfg *config.JobConfig, tags []string) map[string]any {
	m := map[string]any{
		"nodes":   cfg.TotalNodes(),
		"workers": cfg.TotalWorkers(),
		"model":   cfg.Model.Path,
	}
	if len(tags) > 0 {
		m["tags"] = tags
	}
	return m
}

// parseJobID extracts the id from sbatch output, which ends with a line
// of the form "Submitted batch job 12345".
func parseJobID(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 4 && fields[0] == "Submitted" && fields[1] == "batch" && fields[2] == "job" {
			return fields[3], nil
		}
	}
	return "", fmt.Errorf("could not parse job id from sbatch output %q", strings.TrimSpace(out))
}
