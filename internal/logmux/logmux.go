package logmux

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Jeremy-Gitau/launch-pad/internal/event"
)

// Severity classifies a captured output line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Record is one captured line from a service's stdout/stderr.
type Record struct {
	Service  string    `json:"service"`
	At       time.Time `json:"at"`
	Severity Severity  `json:"severity"`
	Line     string    `json:"line"`

	seq uint64
}

// Classify derives a severity by pattern match on the line content.
// Processes write free-form text; this is intentionally heuristic.
func Classify(line string) Severity {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "error"),
		strings.Contains(l, "exception"),
		strings.Contains(l, "traceback"),
		strings.Contains(l, "fatal"),
		strings.Contains(l, "panic"):
		return SeverityError
	case strings.Contains(l, "warn"):
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// ring is a fixed-capacity circular buffer of records, oldest evicted first.
type ring struct {
	mu       sync.Mutex
	records  []Record
	startIdx int
	count    int
}

func newRing(capacity int) *ring {
	return &ring{records: make([]Record, capacity)}
}

func (r *ring) append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.records) {
		r.records[(r.startIdx+r.count)%len(r.records)] = rec
		r.count++
		return
	}
	r.records[r.startIdx] = rec
	r.startIdx = (r.startIdx + 1) % len(r.records)
}

// snapshot returns records in append order.
func (r *ring) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.records[(r.startIdx+i)%len(r.records)])
	}
	return out
}

// Mux holds one bounded buffer per service and a merged, timestamp-ordered
// view across all of them. Appends and reads may happen concurrently; each
// buffer carries its own lock so writers for different services never
// contend.
type Mux struct {
	mu       sync.RWMutex
	capacity int
	buffers  map[string]*ring
	seq      uint64
	bus      *event.Bus
}

const DefaultCapacity = 500

// New creates a Mux with the given per-service buffer capacity. bus may be
// nil when no subscriber cares about log events.
func New(capacity int, bus *event.Bus) *Mux {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mux{capacity: capacity, buffers: make(map[string]*ring), bus: bus}
}

func (m *Mux) buffer(service string) *ring {
	m.mu.RLock()
	r := m.buffers[service]
	m.mu.RUnlock()
	if r != nil {
		return r
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r = m.buffers[service]; r == nil {
		r = newRing(m.capacity)
		m.buffers[service] = r
	}
	return r
}

// Append records one line for a service, classifying its severity and
// publishing a log event.
func (m *Mux) Append(service, line string) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	rec := Record{
		Service:  service,
		At:       time.Now(),
		Severity: Classify(line),
		Line:     line,
		seq:      seq,
	}
	m.buffer(service).append(rec)
	if m.bus != nil {
		m.bus.Publish(event.Event{Kind: event.KindLog, Service: service, Line: line, Detail: rec.Severity.String(), At: rec.At})
	}
}

// Tail returns up to n most recent records for one service, oldest first.
func (m *Mux) Tail(service string, n int) []Record {
	m.mu.RLock()
	r := m.buffers[service]
	m.mu.RUnlock()
	if r == nil {
		return nil
	}
	recs := r.snapshot()
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs
}

// Merged returns up to n most recent records across all services,
// interleaved in timestamp order (append order breaks ties).
func (m *Mux) Merged(n int) []Record {
	all := m.collect(func(Record) bool { return true })
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Search returns every retained record whose line contains term,
// case-insensitively, in merged order.
func (m *Mux) Search(term string) []Record {
	t := strings.ToLower(term)
	return m.collect(func(rec Record) bool {
		return strings.Contains(strings.ToLower(rec.Line), t)
	})
}

func (m *Mux) collect(keep func(Record) bool) []Record {
	m.mu.RLock()
	rings := make([]*ring, 0, len(m.buffers))
	for _, r := range m.buffers {
		rings = append(rings, r)
	}
	m.mu.RUnlock()

	var all []Record
	for _, r := range rings {
		for _, rec := range r.snapshot() {
			if keep(rec) {
				all = append(all, rec)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].At.Equal(all[j].At) {
			return all[i].seq < all[j].seq
		}
		return all[i].At.Before(all[j].At)
	})
	return all
}
