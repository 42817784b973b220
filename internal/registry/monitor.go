package registry

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMonitorInterval is how often the background monitor polls the
// registry for failures.
const DefaultMonitorInterval = 5 * time.Second

// Monitor polls the registry for critical failures in the background and
// cancels the run when one is observed.
type Monitor struct {
	Registry *Registry
	Interval time.Duration
	Log      zerolog.Logger
}

// Run polls until the context is cancelled or a critical failure is
// detected; on failure it invokes cancel and returns.
func (m *Monitor) Run(ctx context.Context, cancel context.CancelFunc) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.Registry.CheckFailures() {
				m.Log.Error().Msg("critical process failure detected, cancelling run")
				cancel()
				return
			}
		}
	}
}

// StartMonitor launches a Monitor goroutine tied to ctx.
func StartMonitor(ctx context.Context, cancel context.CancelFunc, reg *Registry, interval time.Duration, log zerolog.Logger) {
	m := &Monitor{Registry: reg, Interval: interval, Log: log}
	go m.Run(ctx, cancel)
}

// NotifySignals installs SIGINT/SIGTERM handling: the first signal
// cancels the run and kicks off cleanup; concurrent Cleanup calls
// coalesce into one teardown, so repeated signals are harmless. The
// returned stop function uninstalls the handler.
func NotifySignals(cancel context.CancelFunc, reg *Registry, log zerolog.Logger) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range ch {
			log.Warn().Str("signal", sig.String()).Msg("interrupt received, shutting down")
			cancel()
			go reg.Cleanup()
		}
	}()

	return func() { signal.Stop(ch) }
}
