package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service launches.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or forced).",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of automatic restart attempts.",
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	serviceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of supervised processes.",
		}, []string{"service"},
	)
	serviceMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Subsystem: "service",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of supervised processes.",
		}, []string{"service"},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// already-registered collectors are tolerated.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceRestarts,
		stateTransitions, currentStates,
		serviceCPUPercent, serviceMemoryMB,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Recording helpers below no-op until Register has been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service).Inc()
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func SetCurrentState(service, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		currentStates.WithLabelValues(service, state).Set(v)
	}
}

func SetResourceUsage(service string, cpuPercent, memoryMB float64) {
	if regOK.Load() {
		serviceCPUPercent.WithLabelValues(service).Set(cpuPercent)
		serviceMemoryMB.WithLabelValues(service).Set(memoryMB)
	}
}

func DeleteResourceUsage(service string) {
	if regOK.Load() {
		serviceCPUPercent.DeleteLabelValues(service)
		serviceMemoryMB.DeleteLabelValues(service)
	}
}
