package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogitohq/cogito/internal/events"
	"github.com/cogitohq/cogito/pkg/provider"
)

func record(name string, latency time.Duration, tokens int, errType string) provider.CallRecord {
	return provider.CallRecord{
		Provider:   name,
		InstanceID: name + "-1",
		Model:      "m",
		Latency:    latency,
		Tokens:     tokens,
		ErrorType:  errType,
		Timestamp:  time.Now(),
	}
}

func TestObserveCallAccumulates(t *testing.T) {
	m := New(Options{})

	m.ObserveCall(record("p", 100*time.Millisecond, 10, ""))
	m.ObserveCall(record("p", 300*time.Millisecond, 20, ""))

	h, ok := m.Service("p")
	require.True(t, ok)
	assert.Equal(t, int64(2), h.Requests)
	assert.Equal(t, int64(30), h.TokensUsed)
	assert.Equal(t, 200*time.Millisecond, h.AvgResponseTime)
	assert.Equal(t, StatusUp, h.Status)
	assert.Equal(t, 0.0, h.ErrorRate)
}

func TestStatusDegradesWithErrorRate(t *testing.T) {
	m := New(Options{})

	for i := 0; i < 6; i++ {
		m.ObserveCall(record("p", time.Millisecond, 1, ""))
	}
	for i := 0; i < 3; i++ {
		m.ObserveCall(record("p", time.Millisecond, 0, "transport_error"))
	}

	h, _ := m.Service("p")
	assert.Equal(t, StatusDegraded, h.Status)
	assert.InDelta(t, 0.333, h.ErrorRate, 0.01)
}

func TestStatusDownWhenMostCallsFail(t *testing.T) {
	m := New(Options{})

	for i := 0; i < 8; i++ {
		m.ObserveCall(record("p", time.Millisecond, 0, "timeout_error"))
	}
	m.ObserveCall(record("p", time.Millisecond, 1, ""))

	h, _ := m.Service("p")
	assert.Equal(t, StatusDown, h.Status)
}

func TestFailedProbeMarksDown(t *testing.T) {
	bus := events.NewBus()
	m := New(Options{Bus: bus})

	m.ObserveCall(record("p", time.Millisecond, 1, ""))
	bus.Publish(events.Event{Kind: events.KindHealthUpdate, Service: "p", Payload: false})

	h, _ := m.Service("p")
	assert.Equal(t, StatusDown, h.Status)

	// Recovery on the next good probe.
	bus.Publish(events.Event{Kind: events.KindHealthUpdate, Service: "p", Payload: true})
	h, _ = m.Service("p")
	assert.Equal(t, StatusUp, h.Status)
}

func TestOverallAggregation(t *testing.T) {
	m := New(Options{})

	m.ObserveCall(record("good", time.Millisecond, 1, ""))
	assert.Equal(t, OverallHealthy, m.Snapshot().Overall)

	for i := 0; i < 6; i++ {
		m.ObserveCall(record("shaky", time.Millisecond, 1, ""))
	}
	for i := 0; i < 3; i++ {
		m.ObserveCall(record("shaky", time.Millisecond, 0, "transport_error"))
	}
	assert.Equal(t, OverallDegraded, m.Snapshot().Overall)

	for i := 0; i < 8; i++ {
		m.ObserveCall(record("dead", time.Millisecond, 0, "timeout_error"))
	}
	assert.Equal(t, OverallUnhealthy, m.Snapshot().Overall)
}

type fixedHitRate float64

func (f fixedHitRate) HitRate() float64 { return float64(f) }

func TestSnapshotIncludesCacheHitRate(t *testing.T) {
	m := New(Options{Cache: fixedHitRate(0.75)})
	assert.Equal(t, 0.75, m.Snapshot().CacheHitRate)
}

func TestMetricsUpdateEmittedPerCall(t *testing.T) {
	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(events.KindMetricsUpdate, func(ev events.Event) {
		got = append(got, ev)
	})

	m := New(Options{Bus: bus})
	m.ObserveCall(record("p", time.Millisecond, 1, ""))

	require.Len(t, got, 1)
	assert.Equal(t, "p", got[0].Service)
	assert.Equal(t, string(StatusUp), got[0].Payload)
}
