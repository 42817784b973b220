// Package registry owns every launched process for the lifetime of a job.
// It is structured into small files by concern:
//
//   - process.go: ManagedProcess and its terminal status model.
//   - registry.go: the Registry map, failure scanning, and cleanup.
//   - monitor.go: background failure monitor and interrupt handling.
//   - metrics.go: prometheus instrumentation for tracked processes.
//
// Once a process is added, the registry is the only component allowed to
// signal or reap its handle. The orchestrator adds processes and the
// monitor observes them; both paths serialize through the registry mutex.
package registry
