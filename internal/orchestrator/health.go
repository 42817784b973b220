package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// waitForPort dials addr until something accepts, the attempt budget
// runs out, or the context is cancelled. Cancellation wins immediately,
// never only at the next attempt boundary.
func waitForPort(ctx context.Context, host string, port int, attempts int, interval time.Duration) error {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return healthTimeoutError{what: addr}
}

// healthResponse is the tolerant shape of the frontend health endpoint:
// both the dynamo frontend and the sglang router report the workers they
// have discovered, under different keys.
type healthResponse struct {
	Endpoints *[]json.RawMessage `json:"endpoints"`
	Instances *[]json.RawMessage `json:"instances"`
}

// workerCount returns how many workers the body reports, or -1 when it
// does not report them at all.
func (h healthResponse) workerCount() int {
	if h.Instances != nil {
		return len(*h.Instances)
	}
	if h.Endpoints != nil {
		return len(*h.Endpoints)
	}
	return -1
}

// waitForHealth polls {baseURL}/health until it returns 200 and, when
// expectedWorkers is positive and the body lists workers, at least that
// many have registered.
func waitForHealth(ctx context.Context, client *http.Client, baseURL string, expectedWorkers, attempts int, interval time.Duration) error {
	url := baseURL + "/health"
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if healthy(ctx, client, url, expectedWorkers) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return healthTimeoutError{what: url}
}

func healthy(ctx context.Context, client *http.Client, url string, expectedWorkers int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if expectedWorkers <= 0 {
		return true
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// A healthy frontend that does not report workers counts as ready.
		return true
	}
	count := body.workerCount()
	if count < 0 {
		return true
	}
	return count >= expectedWorkers
}
