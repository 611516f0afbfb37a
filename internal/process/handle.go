package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Jeremy-Gitau/launch-pad/internal/event"
	"github.com/Jeremy-Gitau/launch-pad/internal/logger"
	"github.com/Jeremy-Gitau/launch-pad/internal/logmux"
	"github.com/Jeremy-Gitau/launch-pad/internal/metrics"
	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
)

// TransitionHook observes every state transition of a handle. Used to
// persist history; must not block for long.
type TransitionHook func(service, from, to, detail string)

// Status is a point-in-time snapshot of one handle, shaped for the API.
type Status struct {
	ID        string         `json:"id"`
	Label     string         `json:"label,omitempty"`
	State     string         `json:"state"`
	PID       int            `json:"pid,omitempty"`
	Restarts  int            `json:"restarts"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	Sample    metrics.Sample `json:"sample,omitzero"`
}

// Handle owns at most one OS process for a service and serializes every
// lifecycle mutation behind its lock. The exported methods form the only
// way the process is observed or signaled, so state and PID can never
// disagree with what the OS is doing.
type Handle struct {
	mu sync.Mutex

	desc registry.Descriptor
	mux  *logmux.Mux
	bus  *event.Bus
	hook TransitionHook

	logCfg logger.Config

	state         State
	cmd           *exec.Cmd
	pid           int
	startedAt     time.Time
	restarts      int
	stopRequested bool

	waitDone chan struct{} // closed once the current process is fully reaped
	exited   bool
	exitCode int

	sample metrics.Sample
}

// NewHandle creates an idle handle in the stopped state.
func NewHandle(desc registry.Descriptor, mux *logmux.Mux, bus *event.Bus, logCfg logger.Config) *Handle {
	return &Handle{desc: desc, mux: mux, bus: bus, logCfg: logCfg, state: Stopped}
}

// SetTransitionHook installs a transition observer. Call before Launch.
func (h *Handle) SetTransitionHook(hook TransitionHook) {
	h.mu.Lock()
	h.hook = hook
	h.mu.Unlock()
}

func (h *Handle) Desc() registry.Descriptor { return h.desc }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PID returns the current process id, or 0 when nothing is live.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Restarts returns how many automatic restarts this handle has seen.
func (h *Handle) Restarts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restarts
}

// MarkRestart bumps the restart counter ahead of a restart launch.
func (h *Handle) MarkRestart() {
	h.mu.Lock()
	h.restarts++
	h.mu.Unlock()
}

// SetSample stores the latest resource reading for snapshots.
func (h *Handle) SetSample(s metrics.Sample) {
	h.mu.Lock()
	h.sample = s
	h.mu.Unlock()
}

// Snapshot returns the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		ID:       h.desc.ID,
		Label:    h.desc.Label,
		State:    h.state.String(),
		PID:      h.pid,
		Restarts: h.restarts,
		Sample:   h.sample,
	}
	if h.state.Active() {
		st.StartedAt = h.startedAt
	}
	return st
}

// setState performs the transition under the caller's lock, publishing
// the change on the bus and into metrics.
func (h *Handle) setState(to State, detail string) {
	from := h.state
	if from == to {
		return
	}
	h.state = to
	metrics.RecordStateTransition(h.desc.ID, from.String(), to.String())
	metrics.SetCurrentState(h.desc.ID, from.String(), false)
	metrics.SetCurrentState(h.desc.ID, to.String(), true)
	if h.bus != nil {
		h.bus.Publish(event.Event{
			Kind:     event.KindStateChange,
			Service:  h.desc.ID,
			OldState: from.String(),
			NewState: to.String(),
			Detail:   detail,
		})
	}
	if h.hook != nil {
		h.hook(h.desc.ID, from.String(), to.String(), detail)
	}
}

// Launch spawns the service process and moves the handle to starting.
// Only legal from stopped or failed; the restart counter and captured
// logs survive across launches of the same handle.
func (h *Handle) Launch() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Active() {
		return fmt.Errorf("service %s is already %s", h.desc.ID, h.state)
	}

	lp := h.desc.Launch
	cmd := exec.Command(lp.Command, lp.Args...)
	if lp.WorkDir != "" {
		cmd.Dir = lp.WorkDir
	}
	if len(lp.Env) > 0 {
		cmd.Env = append(os.Environ(), lp.Env...)
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &LaunchError{Service: h.desc.ID, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &LaunchError{Service: h.desc.ID, Err: err}
	}

	fileW, err := h.logCfg.CaptureWriter(h.desc.ID)
	if err != nil {
		return &LaunchError{Service: h.desc.ID, Err: err}
	}

	if err := cmd.Start(); err != nil {
		if fileW != nil {
			_ = fileW.Close()
		}
		h.setState(Failed, err.Error())
		return &LaunchError{Service: h.desc.ID, Err: err}
	}

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.stopRequested = false
	h.exited = false
	h.exitCode = 0
	h.waitDone = make(chan struct{})
	h.setState(Starting, "")
	metrics.IncStart(h.desc.ID)

	var capture sync.WaitGroup
	capture.Add(2)
	go h.captureLines(stdout, fileW, &capture)
	go h.captureLines(stderr, fileW, &capture)

	go h.reap(cmd, fileW, &capture, h.waitDone)
	return nil
}

// captureLines scans one output pipe line by line into the multiplexer,
// teeing each line to the rotating capture file when enabled.
func (h *Handle) captureLines(r io.Reader, fileW io.Writer, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		h.mux.Append(h.desc.ID, line)
		if fileW != nil {
			_, _ = fileW.Write(append([]byte(line), '\n'))
		}
	}
}

// reap waits for the process to exit, records the exit code, and closes
// done so stop and poll paths can observe completion. Pipe readers must
// drain before cmd.Wait per os/exec contract.
func (h *Handle) reap(cmd *exec.Cmd, fileW io.Closer, capture *sync.WaitGroup, done chan struct{}) {
	capture.Wait()
	err := cmd.Wait()
	if fileW != nil {
		_ = fileW.Close()
	}

	code := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	} else if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	h.mu.Lock()
	h.exited = true
	h.exitCode = code
	h.mu.Unlock()
	close(done)
}

// ConfirmRunning moves a starting handle to running. Returns false when
// the start was overtaken by a stop or failure in the meantime.
func (h *Handle) ConfirmRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Starting {
		return false
	}
	h.setState(Running, "")
	return true
}

// FailStart marks a starting handle as failed (readiness never came) and
// tears the process down.
func (h *Handle) FailStart(detail string) {
	h.mu.Lock()
	if h.state != Starting {
		h.mu.Unlock()
		return
	}
	h.stopRequested = true
	pid := h.pid
	done := h.waitDone
	h.setState(Failed, detail)
	h.pid = 0
	h.mu.Unlock()

	h.terminate(pid, done, 2*time.Second)
	metrics.DeleteResourceUsage(h.desc.ID)
}

// RequestStop terminates the process group and settles the handle in
// stopped. Stopping an inactive handle is a no-op. A stop during startup
// cancels the start.
func (h *Handle) RequestStop(grace time.Duration) error {
	h.mu.Lock()
	if !h.state.Active() {
		h.mu.Unlock()
		return nil
	}
	h.stopRequested = true
	pid := h.pid
	done := h.waitDone
	h.setState(Stopping, "")
	h.mu.Unlock()

	if grace <= 0 {
		grace = 5 * time.Second
	}
	h.terminate(pid, done, grace)

	h.mu.Lock()
	h.setState(Stopped, "")
	h.pid = 0
	h.mu.Unlock()

	metrics.IncStop(h.desc.ID)
	metrics.DeleteResourceUsage(h.desc.ID)
	return nil
}

// terminate escalates SIGTERM to SIGKILL on the process group and waits
// until the reaper has collected the exit.
func (h *Handle) terminate(pid int, done chan struct{}, grace time.Duration) {
	if pid <= 0 || done == nil {
		return
	}
	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	_ = signalGroup(pid, syscall.SIGKILL)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		// reaper is wedged on a pipe; give up waiting, the kill was sent
	}
}

// Poll reconciles the handle with the OS. When the process has exited
// without a stop request, the handle transitions to failed exactly once
// and failed reports true to that caller, who owns the restart decision.
func (h *Handle) Poll() (alive bool, exitCode int, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.state.Active() {
		return false, h.exitCode, false
	}
	if !h.exited {
		return true, 0, false
	}
	if h.stopRequested {
		// stop path owns the transition to stopped
		return false, h.exitCode, false
	}
	h.setState(Failed, fmt.Sprintf("exit code %d", h.exitCode))
	h.pid = 0
	if h.bus != nil {
		h.bus.Publish(event.Event{
			Kind:    event.KindFailure,
			Service: h.desc.ID,
			Detail:  fmt.Sprintf("exit code %d", h.exitCode),
		})
	}
	metrics.DeleteResourceUsage(h.desc.ID)
	return false, h.exitCode, true
}
