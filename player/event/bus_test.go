package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewBus()

	var received []any
	bus.Subscribe(LevelLoading, func(_ Event, data any) {
		received = append(received, data)
	})

	bus.Emit(LevelLoading, LevelLoadingData{URL: "https://example.com/1.m3u8", Level: 1})

	assert.Len(t, received, 1)
	assert.Equal(t, "https://example.com/1.m3u8", received[0].(LevelLoadingData).URL)
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := NewBus()

	assert.NotPanics(t, func() {
		bus.Emit(Error, nil)
	})
}

func TestDispatchOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(ManifestParsed, func(Event, any) {
			order = append(order, i)
		})
	}

	bus.Emit(ManifestParsed, nil)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	sub := bus.Subscribe(LevelLoaded, func(Event, any) { calls++ })

	bus.Emit(LevelLoaded, nil)
	bus.Unsubscribe(sub)
	bus.Emit(LevelLoaded, nil)

	assert.Equal(t, 1, calls)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	bus := NewBus()
	other := NewBus()
	sub := other.Subscribe(LevelLoaded, func(Event, any) {})

	assert.NotPanics(t, func() {
		bus.Unsubscribe(sub)
	})
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewBus()

	calls := 0
	var sub Subscription
	sub = bus.Subscribe(FragLoaded, func(Event, any) {
		calls++
		bus.Unsubscribe(sub)
	})
	bus.Subscribe(FragLoaded, func(Event, any) { calls++ })

	// The first emission still reaches both handlers; the second only one
	bus.Emit(FragLoaded, nil)
	assert.Equal(t, 2, calls)

	bus.Emit(FragLoaded, nil)
	assert.Equal(t, 3, calls)
}

func TestSubscribeDuringDispatchDoesNotReceiveCurrentEmission(t *testing.T) {
	bus := NewBus()

	lateCalls := 0
	bus.Subscribe(InitPTSFound, func(Event, any) {
		bus.Subscribe(InitPTSFound, func(Event, any) { lateCalls++ })
	})

	bus.Emit(InitPTSFound, nil)
	assert.Equal(t, 0, lateCalls)

	bus.Emit(InitPTSFound, nil)
	assert.Equal(t, 1, lateCalls)
}
