package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(8)
	defer cancel()

	b.Publish(Event{Kind: KindStateChange, Service: "backend", OldState: "stopped", NewState: "starting"})

	select {
	case e := <-ch:
		assert.Equal(t, KindStateChange, e.Kind)
		assert.Equal(t, "backend", e.Service)
		assert.Equal(t, "starting", e.NewState)
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: KindLog, Service: "worker", Line: "first"})
	b.Publish(Event{Kind: KindLog, Service: "worker", Line: "second"}) // dropped

	e := <-ch
	assert.Equal(t, "first", e.Line)
	select {
	case e, ok := <-ch:
		require.True(t, ok)
		t.Fatalf("unexpected extra event: %+v", e)
	default:
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")

	// publishing after cancel must not panic
	b.Publish(Event{Kind: KindFailure, Service: "frontend"})
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(4)
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// subscribe after close yields a closed channel
	ch2, _ := b.Subscribe(4)
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "state_change", KindStateChange.String())
	assert.Equal(t, "log", KindLog.String())
	assert.Equal(t, "failure", KindFailure.String())
	assert.Equal(t, "restart", KindRestart.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
