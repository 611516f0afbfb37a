//go:build !windows

package process

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeremy-Gitau/launch-pad/internal/event"
	"github.com/Jeremy-Gitau/launch-pad/internal/logger"
	"github.com/Jeremy-Gitau/launch-pad/internal/logmux"
	"github.com/Jeremy-Gitau/launch-pad/internal/registry"
)

func newTestHandle(t *testing.T, desc registry.Descriptor) (*Handle, *logmux.Mux, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	mux := logmux.New(100, bus)
	h := NewHandle(desc, mux, bus, logger.Config{})
	t.Cleanup(func() { _ = h.RequestStop(time.Second) })
	return h, mux, bus
}

func shellDesc(id, script string) registry.Descriptor {
	return registry.Descriptor{
		ID:     id,
		Launch: registry.LaunchParams{Command: "/bin/sh", Args: []string{"-c", script}},
	}
}

func TestLaunchAndStop(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("sleeper", "sleep 30"))

	require.NoError(t, h.Launch())
	assert.Equal(t, Starting, h.State())
	assert.Greater(t, h.PID(), 0)

	require.True(t, h.ConfirmRunning())
	assert.Equal(t, Running, h.State())

	pid := h.PID()
	require.NoError(t, h.RequestStop(2*time.Second))
	assert.Equal(t, Stopped, h.State())
	assert.Equal(t, 0, h.PID())

	// process group must be gone
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestLaunchMissingBinary(t *testing.T) {
	h, _, _ := newTestHandle(t, registry.Descriptor{
		ID:     "ghost",
		Launch: registry.LaunchParams{Command: "/no/such/binary"},
	})

	err := h.Launch()
	require.Error(t, err)
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "ghost", le.Service)
	assert.Equal(t, Failed, h.State())
}

func TestLaunchWhileActiveRejected(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("sleeper", "sleep 30"))
	require.NoError(t, h.Launch())
	assert.Error(t, h.Launch())
}

func TestPollDetectsUnexpectedExitOnce(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("flaky", "exit 3"))
	require.NoError(t, h.Launch())
	require.True(t, h.ConfirmRunning())

	var code int
	require.Eventually(t, func() bool {
		alive, c, failed := h.Poll()
		if failed {
			code = c
		}
		return !alive && failed
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 3, code)
	assert.Equal(t, Failed, h.State())
	assert.Equal(t, 0, h.PID())

	// the transition already happened; later polls must not claim it again
	_, _, failed := h.Poll()
	assert.False(t, failed)
}

func TestPollAfterRequestedStopIsNotFailure(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("sleeper", "sleep 30"))
	require.NoError(t, h.Launch())
	require.True(t, h.ConfirmRunning())
	require.NoError(t, h.RequestStop(2*time.Second))

	_, _, failed := h.Poll()
	assert.False(t, failed)
	assert.Equal(t, Stopped, h.State())
}

func TestStopDuringStartingCancelsStart(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("slowstart", "sleep 30"))
	require.NoError(t, h.Launch())
	pid := h.PID()

	require.NoError(t, h.RequestStop(2*time.Second))
	assert.Equal(t, Stopped, h.State())
	assert.False(t, h.ConfirmRunning())
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestFailStartKillsProcess(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("never-ready", "sleep 30"))
	require.NoError(t, h.Launch())
	pid := h.PID()

	h.FailStart("readiness timeout")
	assert.Equal(t, Failed, h.State())
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestOutputCaptured(t *testing.T) {
	h, mux, _ := newTestHandle(t, shellDesc("chatty", `echo hello; echo "ERROR broke" 1>&2`))
	require.NoError(t, h.Launch())

	require.Eventually(t, func() bool {
		return len(mux.Tail("chatty", 0)) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	recs := mux.Tail("chatty", 0)
	lines := make(map[string]logmux.Severity, len(recs))
	for _, r := range recs {
		lines[r.Line] = r.Severity
	}
	assert.Equal(t, logmux.SeverityInfo, lines["hello"])
	assert.Equal(t, logmux.SeverityError, lines["ERROR broke"])
}

func TestRelaunchKeepsRestartCount(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("flaky", "exit 1"))
	require.NoError(t, h.Launch())

	require.Eventually(t, func() bool {
		_, _, failed := h.Poll()
		return failed
	}, 5*time.Second, 20*time.Millisecond)

	h.MarkRestart()
	require.NoError(t, h.Launch())
	assert.Equal(t, Starting, h.State())
	assert.Equal(t, 1, h.Restarts())
	require.NoError(t, h.RequestStop(time.Second))
}

func TestStateChangeEventsPublished(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(32)
	defer cancel()

	mux := logmux.New(100, bus)
	h := NewHandle(shellDesc("svc", "sleep 30"), mux, bus, logger.Config{})
	require.NoError(t, h.Launch())
	require.True(t, h.ConfirmRunning())
	require.NoError(t, h.RequestStop(2*time.Second))

	var transitions []string
	deadline := time.After(2 * time.Second)
	for len(transitions) < 4 {
		select {
		case e := <-ch:
			if e.Kind == event.KindStateChange {
				transitions = append(transitions, e.NewState)
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", transitions)
		}
	}
	assert.Equal(t, []string{"starting", "running", "stopping", "stopped"}, transitions)
}

func TestTransitionHookObservesChanges(t *testing.T) {
	h, _, _ := newTestHandle(t, shellDesc("svc", "sleep 30"))

	var seen []string
	h.SetTransitionHook(func(service, from, to, detail string) {
		seen = append(seen, from+">"+to)
	})
	require.NoError(t, h.Launch())
	require.True(t, h.ConfirmRunning())
	require.NoError(t, h.RequestStop(2*time.Second))

	assert.Equal(t, []string{"stopped>starting", "starting>running", "running>stopping", "stopping>stopped"}, seen)
}
