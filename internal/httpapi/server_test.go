package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elvischenv/srt-slurm/internal/orchestrator"
	"github.com/elvischenv/srt-slurm/internal/registry"
)

type fakeService struct {
	snapshot orchestrator.StatusSnapshot
}

func (s *fakeService) Status() orchestrator.StatusSnapshot { return s.snapshot }

func testServer(t *testing.T) (*httptest.Server, *fakeService) {
	t.Helper()
	svc := &fakeService{snapshot: orchestrator.StatusSnapshot{
		JobID:   "42",
		RunName: "bench_42",
		Stage:   orchestrator.StageWorkers,
		Processes: []registry.ProcessState{
			{Name: "prefill_0_n1", Node: "n1", Status: registry.StatusRunning, Critical: true},
		},
	}}
	srv := httptest.NewServer(NewMux(svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	var got orchestrator.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.JobID != "42" || got.Stage != orchestrator.StageWorkers {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if len(got.Processes) != 1 || got.Processes[0].Name != "prefill_0_n1" {
		t.Fatalf("unexpected processes: %+v", got.Processes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	// Generate at least one instrumented request first.
	if _, err := http.Get(srv.URL + "/healthz"); err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "srtctl_http_requests_total") {
		t.Fatal("metrics output missing request counter")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
