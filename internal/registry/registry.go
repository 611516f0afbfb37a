package registry

import (
	"fmt"
	"time"
)

// LaunchParams is the opaque launch bundle supplied by configuration.
// The supervisor never interprets it beyond handing it to os/exec.
type LaunchParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"` // KEY=VALUE overrides on top of the parent env
}

// ReadyProbe describes how a starting service is confirmed running.
// With an Address, the service is running once a TCP connect succeeds;
// without one, it is running once Timeout elapses with the process alive.
type ReadyProbe struct {
	Address string        `json:"address,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Descriptor is the static definition of one supervised service.
// Immutable once loaded into a Registry.
type Descriptor struct {
	ID                string        `json:"id"`
	Label             string        `json:"label,omitempty"`
	DependsOn         []string      `json:"depends_on,omitempty"`
	Launch            LaunchParams  `json:"launch"`
	AutoRestart       bool          `json:"auto_restart"`
	GracePeriod       time.Duration `json:"grace_period,omitempty"`
	DependencyTimeout time.Duration `json:"dependency_timeout,omitempty"`
	Ready             ReadyProbe    `json:"ready,omitempty"`
}

// ConfigurationError reports a structurally invalid descriptor set.
// It is fatal at load time, never per-operation.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Registry holds a validated, immutable descriptor set. Safe for
// concurrent reads.
type Registry struct {
	byID  map[string]Descriptor
	decl  []Descriptor // declaration order
	order []string     // topological start order
}

// New validates the descriptor set and computes the start order.
// Duplicate ids, references to undefined services, and dependency cycles
// all fail with a ConfigurationError.
func New(descs []Descriptor) (*Registry, error) {
	byID := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.ID == "" {
			return nil, configErrorf("service with empty id")
		}
		if _, dup := byID[d.ID]; dup {
			return nil, configErrorf("duplicate service id %q", d.ID)
		}
		if d.Launch.Command == "" {
			return nil, configErrorf("service %q has no launch command", d.ID)
		}
		byID[d.ID] = d
	}
	for _, d := range descs {
		for _, dep := range d.DependsOn {
			if dep == d.ID {
				return nil, configErrorf("service %q depends on itself", d.ID)
			}
			if _, ok := byID[dep]; !ok {
				return nil, configErrorf("service %q depends on undefined service %q", d.ID, dep)
			}
		}
	}
	order, err := topoSort(descs)
	if err != nil {
		return nil, err
	}
	return &Registry{byID: byID, decl: append([]Descriptor(nil), descs...), order: order}, nil
}

// topoSort produces a linear extension of the dependency partial order.
// Ties are broken by declaration order so startup is deterministic.
func topoSort(descs []Descriptor) ([]string, error) {
	indegree := make(map[string]int, len(descs))
	for _, d := range descs {
		indegree[d.ID] = len(d.DependsOn)
	}
	order := make([]string, 0, len(descs))
	emitted := make(map[string]bool, len(descs))
	for len(order) < len(descs) {
		progressed := false
		for _, d := range descs {
			if emitted[d.ID] || indegree[d.ID] != 0 {
				continue
			}
			emitted[d.ID] = true
			order = append(order, d.ID)
			for _, other := range descs {
				for _, dep := range other.DependsOn {
					if dep == d.ID {
						indegree[other.ID]--
					}
				}
			}
			progressed = true
		}
		if !progressed {
			remaining := make([]string, 0)
			for _, d := range descs {
				if !emitted[d.ID] {
					remaining = append(remaining, d.ID)
				}
			}
			return nil, configErrorf("dependency cycle among services %v", remaining)
		}
	}
	return order, nil
}

// Describe returns the descriptor for id.
func (r *Registry) Describe(id string) (Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown service: %s", id)
	}
	return d, nil
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.decl...)
}

// DependenciesOf returns the direct dependencies of id.
func (r *Registry) DependenciesOf(id string) []string {
	d, ok := r.byID[id]
	if !ok {
		return nil
	}
	return append([]string(nil), d.DependsOn...)
}

// StartOrder returns service ids in dependency start order.
func (r *Registry) StartOrder() []string {
	return append([]string(nil), r.order...)
}
