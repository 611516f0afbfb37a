package logmux

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeremy-Gitau/launch-pad/internal/event"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		want Severity
	}{
		{"ERROR: connection refused", SeverityError},
		{"Traceback (most recent call last):", SeverityError},
		{"fatal: out of memory", SeverityError},
		{"WARNING: deprecated flag", SeverityWarn},
		{"warn: slow response", SeverityWarn},
		{"listening on :8070", SeverityInfo},
		{"", SeverityInfo},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.line), "line %q", c.line)
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	m := New(10, nil)
	for i := 0; i < 5; i++ {
		m.Append("backend", fmt.Sprintf("line-%d", i))
	}
	recs := m.Tail("backend", 3)
	require.Len(t, recs, 3)
	assert.Equal(t, "line-2", recs[0].Line)
	assert.Equal(t, "line-4", recs[2].Line)

	assert.Nil(t, m.Tail("unknown", 3))
}

func TestEvictionKeepsNewestN(t *testing.T) {
	m := New(4, nil)
	for i := 0; i < 10; i++ {
		m.Append("redis", fmt.Sprintf("line-%d", i))
	}
	recs := m.Tail("redis", 0)
	require.Len(t, recs, 4)
	for i, rec := range recs {
		assert.Equal(t, fmt.Sprintf("line-%d", i+6), rec.Line)
	}
}

func TestMergedIsTimestampOrderedAcrossServices(t *testing.T) {
	m := New(8, nil)
	m.Append("redis", "r0")
	m.Append("backend", "b0")
	m.Append("redis", "r1")
	m.Append("backend", "b1")

	recs := m.Merged(0)
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].At.Before(recs[i-1].At), "records out of order at %d", i)
	}
	// equal timestamps fall back to append order
	assert.Equal(t, "r0", recs[0].Line)
	assert.Equal(t, "b1", recs[3].Line)

	limited := m.Merged(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "r1", limited[0].Line)
	assert.Equal(t, "b1", limited[1].Line)
}

func TestMergedStaysOrderedAfterEviction(t *testing.T) {
	m := New(2, nil)
	for i := 0; i < 6; i++ {
		m.Append("a", fmt.Sprintf("a%d", i))
		m.Append("b", fmt.Sprintf("b%d", i))
	}
	recs := m.Merged(0)
	require.Len(t, recs, 4)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].At.Before(recs[i-1].At))
	}
}

func TestSearch(t *testing.T) {
	m := New(16, nil)
	m.Append("backend", "GET /api/schema 200")
	m.Append("worker", "task ingestion.scan succeeded")
	m.Append("backend", "GET /healthz 200")

	recs := m.Search("get /")
	require.Len(t, recs, 2)
	assert.Equal(t, "backend", recs[0].Service)

	assert.Empty(t, m.Search("no-such-term"))
}

func TestAppendPublishesLogEvent(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	m := New(4, bus)
	m.Append("frontend", "ERROR: build failed")

	e := <-ch
	assert.Equal(t, event.KindLog, e.Kind)
	assert.Equal(t, "frontend", e.Service)
	assert.Equal(t, "ERROR: build failed", e.Line)
	assert.Equal(t, "error", e.Detail)
}

func TestConcurrentWriters(t *testing.T) {
	m := New(64, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			svc := fmt.Sprintf("svc-%d", g%2)
			for i := 0; i < 50; i++ {
				m.Append(svc, fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()
	assert.Len(t, m.Tail("svc-0", 0), 64)
	assert.Len(t, m.Tail("svc-1", 0), 64)
}
