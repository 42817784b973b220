// Package contract defines the status API payloads shared between the
// srtctl reporter and external job-tracking services. It has no internal
// imports so both sides of the API can depend on it.
package contract

// JobStatus is the externally visible lifecycle status of a job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusStarting     JobStatus = "starting"
	StatusInfraReady   JobStatus = "infra_ready"
	StatusWorkersReady JobStatus = "workers_ready"
	StatusRunning      JobStatus = "running"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
)

// JobStage names the orchestrator stage a status update was sent from.
type JobStage string

const (
	StageStarting       JobStage = "starting"
	StageInfrastructure JobStage = "infrastructure"
	StageWorkers        JobStage = "workers"
	StageFrontend       JobStage = "frontend"
	StageBenchmark      JobStage = "benchmark"
	StageCleanup        JobStage = "cleanup"
)

// JobCreatePayload creates the initial job record at submission time.
type JobCreatePayload struct {
	JobID       string         `json:"job_id"`
	JobName     string         `json:"job_name"`
	SubmittedAt string         `json:"submitted_at"`
	Cluster     string         `json:"cluster,omitempty"`
	Recipe      string         `json:"recipe,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// JobUpdatePayload updates an existing job record while it runs.
type JobUpdatePayload struct {
	Status      string         `json:"status"`
	Stage       string         `json:"stage,omitempty"`
	Message     string         `json:"message,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt string         `json:"completed_at,omitempty"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
