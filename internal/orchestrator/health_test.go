package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForPortSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	err = waitForPort(context.Background(), "127.0.0.1", port, 5, 10*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitForPortTimesOut(t *testing.T) {
	// Port 1 is never listening.
	err := waitForPort(context.Background(), "127.0.0.1", 1, 2, time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsHealthTimeout(err))
}

func TestWaitForPortReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := waitForPort(ctx, "127.0.0.1", 1, 1000, time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 2*time.Second, "cancellation must cut the wait short, not run out the attempt budget")
}

func TestWaitForHealthRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"instances": [{"id": 1}, {"id": 2}]}`))
	}))
	defer srv.Close()

	err := waitForHealth(context.Background(), srv.Client(), srv.URL, 2, 10, time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForHealthRequiresWorkerCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"endpoints": [{"id": 1}]}`))
	}))
	defer srv.Close()

	err := waitForHealth(context.Background(), srv.Client(), srv.URL, 2, 3, time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsHealthTimeout(err))
}

func TestWaitForHealthAcceptsBareOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	// A frontend that does not report its workers is trusted once it is up.
	err := waitForHealth(context.Background(), srv.Client(), srv.URL, 4, 3, time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitForHealthCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitForHealth(ctx, srv.Client(), srv.URL, 1, 100, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
