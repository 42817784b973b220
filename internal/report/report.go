// Package report pushes job lifecycle updates to external status
// services. Reporting is strictly best-effort: a dead or slow endpoint
// must never affect the run, so every call swallows its error after
// logging it at debug level.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/elvischenv/srt-slurm/internal/config"
	"github.com/elvischenv/srt-slurm/pkg/contract"
)

const requestTimeout = 5 * time.Second

// Reporter fans job status updates out to zero or more status endpoints.
// A Reporter with no endpoints is valid and does nothing.
type Reporter struct {
	endpoints []string
	client    *http.Client
	log       zerolog.Logger
}

// New builds a reporter from the job's reporting config.
func New(cfg *config.JobConfig, log zerolog.Logger) *Reporter {
	return &Reporter{
		endpoints: cfg.StatusEndpoints(),
		client:    &http.Client{Timeout: requestTimeout},
		log:       log,
	}
}

// Enabled reports whether any status endpoint is configured.
func (r *Reporter) Enabled() bool { return r != nil && len(r.endpoints) > 0 }

// Create registers a new job record at submission time via
// POST {endpoint}/api/jobs.
func (r *Reporter) Create(payload contract.JobCreatePayload) {
	if !r.Enabled() {
		return
	}
	for _, ep := range r.endpoints {
		r.send(http.MethodPost, ep+"/api/jobs", payload)
	}
}

// Update pushes a lifecycle update via PUT {endpoint}/api/jobs/{id}.
func (r *Reporter) Update(jobID string, payload contract.JobUpdatePayload) {
	if !r.Enabled() {
		return
	}
	if payload.UpdatedAt == "" {
		payload.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	for _, ep := range r.endpoints {
		r.send(http.MethodPut, fmt.Sprintf("%s/api/jobs/%s", ep, jobID), payload)
	}
}

// Stage is the common update shape: a status, the stage it came from,
// and a human-readable message.
func (r *Reporter) Stage(jobID string, status contract.JobStatus, stage contract.JobStage, message string) {
	r.Update(jobID, contract.JobUpdatePayload{
		Status:  string(status),
		Stage:   string(stage),
		Message: message,
	})
}

// Finished sends the terminal update with the process exit code.
func (r *Reporter) Finished(jobID string, status contract.JobStatus, exitCode int) {
	r.Update(jobID, contract.JobUpdatePayload{
		Status:      string(status),
		ExitCode:    &exitCode,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Reporter) send(method, url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.log.Debug().Err(err).Str("url", url).Msg("status report marshal failed")
		return
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		r.log.Debug().Err(err).Str("url", url).Msg("status report request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("url", url).Msg("status report send failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.log.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("status report rejected")
	}
}
