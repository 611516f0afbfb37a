package metrics

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one point-in-time resource reading for a supervised process.
// Alive false means the process could not be observed at all; sampling
// failure is a liveness signal, never an error.
type Sample struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	Alive      bool      `json:"alive"`
	At         time.Time `json:"at"`
}

// Sampler reads CPU and resident memory from OS process accounting.
type Sampler struct{}

// Sample reads resource usage for pid. A vanished or unreadable process
// yields Alive=false with zeroed readings.
func (Sampler) Sample(pid int) Sample {
	s := Sample{At: time.Now()}
	if pid <= 0 {
		return s
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return s
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return s
	}
	s.Alive = true
	if cpu, err := proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	} else {
		slog.Debug("cpu sample failed", "pid", pid, "error", err)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		s.MemoryMB = float64(mem.RSS) / 1024 / 1024
	} else if err != nil {
		slog.Debug("memory sample failed", "pid", pid, "error", err)
	}
	return s
}
