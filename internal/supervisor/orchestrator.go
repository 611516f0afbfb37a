package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Jeremy-Gitau/launch-pad/internal/event"
	"github.com/Jeremy-Gitau/launch-pad/internal/logger"
	"github.com/Jeremy-Gitau/launch-pad/internal/logmux"
	"github.com/Jeremy-Gitau/launch-pad/internal/metrics"
	"github.com/Jeremy-Gitau/launch-pad/internal/process"
	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
	"github.com/Jeremy-Gitau/launch-pad/internal/store"
)

// DependencyTimeoutError reports that a dependency never reached running
// within the bounded wait, so the dependent start was abandoned.
type DependencyTimeoutError struct {
	Service    string
	Dependency string
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("service %s: dependency %s did not become running in time", e.Service, e.Dependency)
}

// ResourceSampler abstracts OS process accounting so tests can inject
// deterministic readings.
type ResourceSampler interface {
	Sample(pid int) metrics.Sample
}

// Options tune supervisor timing. Zero values take the defaults below;
// tests shrink them to keep runs fast.
type Options struct {
	MonitorInterval   time.Duration // health check cadence
	StartStagger      time.Duration // pause between launches in StartAll
	StabilityWindow   time.Duration // running this long resets the restart budget
	RestartLimit      int           // automatic restarts before a failure is terminal
	RestartDelay      time.Duration // pause before an automatic relaunch
	DependencyTimeout time.Duration // default bounded wait on dependencies
	StopGrace         time.Duration // default SIGTERM-to-SIGKILL grace
	LogCapacity       int           // per-service retained log lines
	LogConfig         logger.Config // rotating file capture of service output
	Sampler           ResourceSampler
}

const (
	DefaultMonitorInterval   = 2 * time.Second
	DefaultStartStagger      = 500 * time.Millisecond
	DefaultStabilityWindow   = 60 * time.Second
	DefaultRestartLimit      = 3
	DefaultRestartDelay      = 2 * time.Second
	DefaultDependencyTimeout = 30 * time.Second
	DefaultStopGrace         = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = DefaultMonitorInterval
	}
	if o.StartStagger <= 0 {
		o.StartStagger = DefaultStartStagger
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = DefaultStabilityWindow
	}
	if o.RestartLimit <= 0 {
		o.RestartLimit = DefaultRestartLimit
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.DependencyTimeout <= 0 {
		o.DependencyTimeout = DefaultDependencyTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Sampler == nil {
		o.Sampler = metrics.Sampler{}
	}
	return o
}

// entry pairs a handle with its restart accounting. The entry lock
// guards the budget fields, never the handle itself.
type entry struct {
	mu          sync.Mutex
	h           *process.Handle
	attempts    int
	lastStartAt time.Time
}

// Orchestrator coordinates service lifecycles over a validated registry.
// Starting a service cascades through its dependencies with bounded
// waits; stopping never cascades, so a shared dependency stays up for
// its other dependents.
type Orchestrator struct {
	reg     *registry.Registry
	opts    Options
	bus     *event.Bus
	mux     *logmux.Mux
	entries map[string]*entry

	monitorOnce sync.Once
	stopMonitor chan struct{}
	monitorDone chan struct{}
}

// New builds an orchestrator with every service in the stopped state.
func New(reg *registry.Registry, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	bus := event.NewBus()
	mux := logmux.New(opts.LogCapacity, bus)
	o := &Orchestrator{
		reg:         reg,
		opts:        opts,
		bus:         bus,
		mux:         mux,
		entries:     make(map[string]*entry),
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	for _, d := range reg.All() {
		o.entries[d.ID] = &entry{h: process.NewHandle(d, mux, bus, opts.LogConfig)}
	}
	return o
}

// Bus exposes the event stream for subscribers (UI boundary, tests).
func (o *Orchestrator) Bus() *event.Bus { return o.bus }

// Logs exposes the multiplexer of captured service output.
func (o *Orchestrator) Logs() *logmux.Mux { return o.mux }

// Registry returns the descriptor set the orchestrator runs.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// SetStore installs transition persistence on every handle. Writes are
// asynchronous so a slow database never stalls a lifecycle operation.
func (o *Orchestrator) SetStore(s store.Store) {
	if s == nil {
		return
	}
	hook := func(service, from, to, detail string) {
		rec := store.Record{Service: service, From: from, To: to, Detail: detail, At: time.Now()}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.RecordTransition(ctx, rec); err != nil {
				slog.Warn("persist transition failed", "service", service, "error", err)
			}
		}()
	}
	for _, e := range o.entries {
		e.h.SetTransitionHook(hook)
	}
}

func (o *Orchestrator) entryFor(id string) (*entry, registry.Descriptor, error) {
	desc, err := o.reg.Describe(id)
	if err != nil {
		return nil, registry.Descriptor{}, err
	}
	return o.entries[id], desc, nil
}

// StartService starts id after recursively starting its dependencies and
// waiting, bounded, for each to reach running. An explicit start resets
// the restart budget.
func (o *Orchestrator) StartService(ctx context.Context, id string) error {
	return o.startCascade(ctx, id, make(map[string]bool), true)
}

func (o *Orchestrator) startCascade(ctx context.Context, id string, visiting map[string]bool, reset bool) error {
	if visiting[id] {
		return nil
	}
	visiting[id] = true

	ent, desc, err := o.entryFor(id)
	if err != nil {
		return err
	}
	for _, dep := range desc.DependsOn {
		if err := o.startCascade(ctx, dep, visiting, reset); err != nil {
			return err
		}
	}
	for _, dep := range desc.DependsOn {
		if err := o.waitRunning(ctx, id, dep, o.dependencyTimeout(desc)); err != nil {
			return err
		}
	}
	return o.launchOne(ctx, ent, desc, reset)
}

func (o *Orchestrator) dependencyTimeout(desc registry.Descriptor) time.Duration {
	if desc.DependencyTimeout > 0 {
		return desc.DependencyTimeout
	}
	return o.opts.DependencyTimeout
}

// waitRunning blocks until dep is running, dep settles in failed, or the
// bounded wait elapses. The two losing outcomes both surface as a
// dependency timeout; waiting out the clock on a dead dependency would
// only delay the same answer.
func (o *Orchestrator) waitRunning(ctx context.Context, id, dep string, timeout time.Duration) error {
	h := o.entries[dep].h
	deadline := time.Now().Add(timeout)
	for {
		switch h.State() {
		case process.Running:
			return nil
		case process.Failed:
			return &DependencyTimeoutError{Service: id, Dependency: dep}
		}
		if time.Now().After(deadline) {
			return &DependencyTimeoutError{Service: id, Dependency: dep}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// launchOne spawns one service and waits for readiness. Starting an
// already starting or running service is a no-op.
func (o *Orchestrator) launchOne(ctx context.Context, ent *entry, desc registry.Descriptor, reset bool) error {
	ent.mu.Lock()
	switch ent.h.State() {
	case process.Running, process.Starting:
		ent.mu.Unlock()
		return nil
	case process.Stopping:
		ent.mu.Unlock()
		return fmt.Errorf("service %s is stopping", desc.ID)
	}
	if reset {
		ent.attempts = 0
	}
	if err := ent.h.Launch(); err != nil {
		ent.mu.Unlock()
		return err
	}
	ent.lastStartAt = time.Now()
	ent.mu.Unlock()

	slog.Info("service launched", "service", desc.ID, "pid", ent.h.PID())
	return o.waitReady(ctx, ent, desc)
}

// waitReady confirms a starting service as running. With a probe address
// readiness is a successful TCP connect; otherwise the grace period
// elapsing with the process still alive counts as ready. A stop that
// lands during startup wins quietly.
func (o *Orchestrator) waitReady(ctx context.Context, ent *entry, desc registry.Descriptor) error {
	probe := desc.Ready.Address != ""
	window := desc.Ready.Timeout
	if window <= 0 {
		if probe {
			window = 10 * time.Second
		} else {
			window = desc.GracePeriod
		}
	}
	deadline := time.Now().Add(window)

	for {
		switch ent.h.State() {
		case process.Running:
			return nil
		case process.Stopping, process.Stopped:
			return nil // start cancelled by a stop
		case process.Failed:
			_, code, _ := ent.h.Poll()
			return &process.UnexpectedExitError{Service: desc.ID, ExitCode: code}
		}
		if _, code, failed := ent.h.Poll(); failed {
			return &process.UnexpectedExitError{Service: desc.ID, ExitCode: code}
		}
		if probe {
			conn, err := net.DialTimeout("tcp", desc.Ready.Address, 250*time.Millisecond)
			if err == nil {
				_ = conn.Close()
				ent.h.ConfirmRunning()
				return nil
			}
		} else if !time.Now().Before(deadline) {
			ent.h.ConfirmRunning()
			return nil
		}
		if probe && time.Now().After(deadline) {
			ent.h.FailStart("readiness probe timed out")
			return fmt.Errorf("service %s: readiness probe %s timed out", desc.ID, desc.Ready.Address)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// StopService stops id alone. Dependents and dependencies are left as
// they are; a shared dependency may still be serving someone else.
func (o *Orchestrator) StopService(ctx context.Context, id string) error {
	_, desc, err := o.entryFor(id)
	if err != nil {
		return err
	}
	return o.stopOne(desc)
}

func (o *Orchestrator) stopOne(desc registry.Descriptor) error {
	grace := desc.GracePeriod
	if grace <= 0 {
		grace = o.opts.StopGrace
	}
	return o.entries[desc.ID].h.RequestStop(grace)
}

// StartAll launches every service in dependency order with a stagger
// between launches, aborting on the first failure.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	first := true
	for _, id := range o.reg.StartOrder() {
		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.opts.StartStagger):
			}
		}
		first = false
		ent, desc, err := o.entryFor(id)
		if err != nil {
			return err
		}
		for _, dep := range desc.DependsOn {
			if err := o.waitRunning(ctx, id, dep, o.dependencyTimeout(desc)); err != nil {
				return err
			}
		}
		if err := o.launchOne(ctx, ent, desc, true); err != nil {
			return fmt.Errorf("start all aborted at %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every service in reverse dependency order, continuing
// past individual failures and joining the errors.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	order := o.reg.StartOrder()
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		_, desc, err := o.entryFor(order[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.stopOne(desc); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", desc.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ApplyPreset converges the running set onto the named services plus
// their transitive dependencies. Services outside the target set are
// stopped first, in reverse order, then missing members are started.
func (o *Orchestrator) ApplyPreset(ctx context.Context, ids []string) error {
	target := make(map[string]bool)
	var expand func(id string) error
	expand = func(id string) error {
		if target[id] {
			return nil
		}
		desc, err := o.reg.Describe(id)
		if err != nil {
			return err
		}
		target[id] = true
		for _, dep := range desc.DependsOn {
			if err := expand(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := expand(id); err != nil {
			return err
		}
	}

	order := o.reg.StartOrder()
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if target[id] {
			continue
		}
		if o.entries[id].h.State().Active() {
			_, desc, _ := o.entryFor(id)
			if err := o.stopOne(desc); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
			}
		}
	}
	for _, id := range order {
		if !target[id] {
			continue
		}
		ent, desc, err := o.entryFor(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, dep := range desc.DependsOn {
			if err := o.waitRunning(ctx, id, dep, o.dependencyTimeout(desc)); err != nil {
				errs = append(errs, err)
				break
			}
		}
		if err := o.launchOne(ctx, ent, desc, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns statuses in declaration order.
func (o *Orchestrator) Snapshot() []process.Status {
	out := make([]process.Status, 0, len(o.entries))
	for _, d := range o.reg.All() {
		out = append(out, o.entries[d.ID].h.Snapshot())
	}
	return out
}

// StartMonitor begins the periodic health and resource loop. Safe to
// call once; later calls are ignored.
func (o *Orchestrator) StartMonitor() {
	o.monitorOnce.Do(func() {
		go func() {
			defer close(o.monitorDone)
			t := time.NewTicker(o.opts.MonitorInterval)
			defer t.Stop()
			for {
				select {
				case <-o.stopMonitor:
					return
				case <-t.C:
					o.monitorTick()
				}
			}
		}()
	})
}

func (o *Orchestrator) monitorTick() {
	for _, d := range o.reg.All() {
		ent := o.entries[d.ID]
		alive, code, failed := ent.h.Poll()
		if alive {
			if ent.h.State() == process.Running {
				s := o.opts.Sampler.Sample(ent.h.PID())
				ent.h.SetSample(s)
				metrics.SetResourceUsage(d.ID, s.CPUPercent, s.MemoryMB)
			}
			if ent.h.State() == process.Running {
				ent.mu.Lock()
				if ent.attempts > 0 && time.Since(ent.lastStartAt) >= o.opts.StabilityWindow {
					slog.Info("service stabilized, restart budget reset", "service", d.ID)
					ent.attempts = 0
				}
				ent.mu.Unlock()
			}
			continue
		}
		if failed {
			o.handleFailure(ent, d, code)
		}
	}
}

// handleFailure applies the restart policy after a monitored crash. The
// budget caps consecutive automatic restarts; a stable run long enough
// to pass the stability window earns the budget back.
func (o *Orchestrator) handleFailure(ent *entry, desc registry.Descriptor, exitCode int) {
	slog.Warn("service exited unexpectedly", "service", desc.ID, "exit_code", exitCode)
	if !desc.AutoRestart {
		return
	}

	ent.mu.Lock()
	if ent.attempts >= o.opts.RestartLimit {
		ent.mu.Unlock()
		slog.Error("restart budget exhausted", "service", desc.ID, "limit", o.opts.RestartLimit)
		o.bus.Publish(event.Event{
			Kind:    event.KindFailure,
			Service: desc.ID,
			Detail:  "restart budget exhausted",
		})
		return
	}
	ent.attempts++
	attempt := ent.attempts
	ent.mu.Unlock()

	ent.h.MarkRestart()
	metrics.IncRestart(desc.ID)
	o.bus.Publish(event.Event{
		Kind:    event.KindRestart,
		Service: desc.ID,
		Detail:  fmt.Sprintf("attempt %d/%d", attempt, o.opts.RestartLimit),
	})
	slog.Info("restarting service", "service", desc.ID, "attempt", attempt, "limit", o.opts.RestartLimit)

	go func() {
		time.Sleep(o.opts.RestartDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.launchOne(ctx, ent, desc, false); err != nil {
			slog.Error("automatic restart failed", "service", desc.ID, "error", err)
		}
	}()
}

// Close stops the monitor loop and shuts the event bus. Running services
// are left running; call StopAll first for a full shutdown.
func (o *Orchestrator) Close() {
	o.monitorOnce.Do(func() { close(o.monitorDone) })
	select {
	case <-o.stopMonitor:
	default:
		close(o.stopMonitor)
	}
	<-o.monitorDone
	o.bus.Close()
}

// Shutdown stops every service, then closes the orchestrator.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.StopAll(ctx)
	o.Close()
	return err
}
