package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_SubscribeByKind(t *testing.T) {
	bus := NewBus()

	var got []Kind
	bus.Subscribe(KindQuerySuccess, func(ev Event) {
		got = append(got, ev.Kind)
	})

	bus.Publish(Event{Kind: KindQuerySuccess, Service: "openai"})
	bus.Publish(Event{Kind: KindQueryError, Service: "openai"})

	assert.Equal(t, []Kind{KindQuerySuccess}, got)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(ev Event) {
		count++
		assert.False(t, ev.Timestamp.IsZero())
	})

	bus.Publish(Event{Kind: KindQuerySuccess})
	bus.Publish(Event{Kind: KindHealthUpdate})
	bus.Publish(Event{Kind: KindMetricsUpdate})

	assert.Equal(t, 3, count)
}
