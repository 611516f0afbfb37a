package launchpad

import (
	"context"
	"net/http"

	"github.com/Jeremy-Gitau/launch-pad/internal/config"
	"github.com/Jeremy-Gitau/launch-pad/internal/event"
	"github.com/Jeremy-Gitau/launch-pad/internal/logmux"
	"github.com/Jeremy-Gitau/launch-pad/internal/metrics"
	"github.com/Jeremy-Gitau/launch-pad/internal/process"
	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
	"github.com/Jeremy-Gitau/launch-pad/internal/server"
	"github.com/Jeremy-Gitau/launch-pad/internal/store"
	"github.com/Jeremy-Gitau/launch-pad/internal/store/factory"
	"github.com/Jeremy-Gitau/launch-pad/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Descriptor = registry.Descriptor

type LaunchParams = registry.LaunchParams

type ReadyProbe = registry.ReadyProbe

type Status = process.Status

type Options = supervisor.Options

type Event = event.Event

type LogRecord = logmux.Record

type Sample = metrics.Sample

type HistoryRecord = store.Record

// Error types callers may want to match with errors.As.

type ConfigurationError = registry.ConfigurationError

type LaunchError = process.LaunchError

type UnexpectedExitError = process.UnexpectedExitError

type DependencyTimeoutError = supervisor.DependencyTimeoutError

// Supervisor is a thin facade over the internal orchestrator. It
// provides a stable public API for embedding the stack supervisor in
// another program.
type Supervisor struct {
	inner *supervisor.Orchestrator
}

// New validates the descriptor set and builds a supervisor over it.
func New(descs []Descriptor, opts Options) (*Supervisor, error) {
	reg, err := registry.New(descs)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: supervisor.New(reg, opts)}, nil
}

// NewFromConfig builds a supervisor from a TOML config file.
func NewFromConfig(path string) (*Supervisor, map[string][]string, error) {
	fc, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	reg, err := fc.Registry()
	if err != nil {
		return nil, nil, err
	}
	return &Supervisor{inner: supervisor.New(reg, fc.SupervisorOptions())}, fc.Presets, nil
}

func (s *Supervisor) Start(ctx context.Context, id string) error {
	return s.inner.StartService(ctx, id)
}

func (s *Supervisor) Stop(ctx context.Context, id string) error {
	return s.inner.StopService(ctx, id)
}

func (s *Supervisor) StartAll(ctx context.Context) error { return s.inner.StartAll(ctx) }

func (s *Supervisor) StopAll(ctx context.Context) error { return s.inner.StopAll(ctx) }

func (s *Supervisor) ApplyPreset(ctx context.Context, ids []string) error {
	return s.inner.ApplyPreset(ctx, ids)
}

func (s *Supervisor) Status() []Status { return s.inner.Snapshot() }

// Subscribe returns the supervisor's event stream and a cancel func.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.inner.Bus().Subscribe(buffer)
}

// Tail returns up to n retained log lines for one service.
func (s *Supervisor) Tail(service string, n int) []LogRecord {
	return s.inner.Logs().Tail(service, n)
}

// MergedLogs returns up to n retained lines across all services in
// timestamp order.
func (s *Supervisor) MergedLogs(n int) []LogRecord { return s.inner.Logs().Merged(n) }

// SearchLogs returns retained lines containing term.
func (s *Supervisor) SearchLogs(term string) []LogRecord { return s.inner.Logs().Search(term) }

// Monitor starts the periodic health and resource loop.
func (s *Supervisor) Monitor() { s.inner.StartMonitor() }

// UseHistory opens a transition history store from a DSN and attaches it.
func (s *Supervisor) UseHistory(ctx context.Context, dsn string) (store.Store, error) {
	hist, err := factory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := hist.EnsureSchema(ctx); err != nil {
		_ = hist.Close()
		return nil, err
	}
	s.inner.SetStore(hist)
	return hist, nil
}

// Shutdown stops every service and releases the supervisor.
func (s *Supervisor) Shutdown(ctx context.Context) error { return s.inner.Shutdown(ctx) }

// Handler returns the HTTP control surface for mounting in any server.
func (s *Supervisor) Handler(presets map[string][]string, hist store.Store, withMetrics bool) http.Handler {
	return server.NewRouter(s.inner, presets, hist, withMetrics).Handler()
}

// Serve runs a standalone HTTP control server on addr.
func (s *Supervisor) Serve(addr string, presets map[string][]string, hist store.Store, withMetrics bool) *http.Server {
	return server.NewServer(addr, server.NewRouter(s.inner, presets, hist, withMetrics))
}

// RegisterMetrics registers the Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Timing defaults, re-exported for embedders tuning Options.
const (
	DefaultMonitorInterval   = supervisor.DefaultMonitorInterval
	DefaultStartStagger      = supervisor.DefaultStartStagger
	DefaultStabilityWindow   = supervisor.DefaultStabilityWindow
	DefaultRestartLimit      = supervisor.DefaultRestartLimit
	DefaultRestartDelay      = supervisor.DefaultRestartDelay
	DefaultDependencyTimeout = supervisor.DefaultDependencyTimeout
	DefaultStopGrace         = supervisor.DefaultStopGrace
)
