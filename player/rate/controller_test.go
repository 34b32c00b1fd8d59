package rate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/RyanBlaney/hls-player-core/player/common"
)

// fakeMedia is a thread-safe media sink stub
type fakeMedia struct {
	mu       sync.Mutex
	pos      float64
	buffered []common.TimeRange
	rate     float64
}

func newFakeMedia(pos float64, buffered []common.TimeRange) *fakeMedia {
	return &fakeMedia{pos: pos, buffered: buffered, rate: 1.0}
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *fakeMedia) Buffered() []common.TimeRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

func (m *fakeMedia) PlaybackRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

func (m *fakeMedia) SetPlaybackRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

func TestComputeRateDeadBand(t *testing.T) {
	controller := NewController(nil, nil)

	// Exactly at target
	assert.InDelta(t, 1.0, controller.computeRate(3.0), 1e-9)
	// Inside the dead-band: distance in (0, refreshLatency]
	assert.InDelta(t, 1.0, controller.computeRate(2.5), 1e-9)
	assert.InDelta(t, 1.0, controller.computeRate(2.0), 1e-9)
}

func TestComputeRateUnderrun(t *testing.T) {
	controller := NewController(nil, nil)

	// Empty buffer: distance = 3 > refreshLatency, sigmoid(0, 3) ~= 0.36
	rate := controller.computeRate(0)
	expected := 2.0 / (1.0 + math.Exp(1.5))
	assert.InDelta(t, expected, rate, 1e-9)
	assert.InDelta(t, 0.36, rate, 0.01)
}

func TestComputeRateTooMuchBuffer(t *testing.T) {
	controller := NewController(nil, nil)

	rate := controller.computeRate(10)
	assert.Greater(t, rate, 1.0)
	assert.LessOrEqual(t, rate, 2.0)
}

func TestComputeRateBounds(t *testing.T) {
	controller := NewController(nil, nil)

	for buffered := 0.0; buffered <= 60.0; buffered += 0.25 {
		rate := controller.computeRate(buffered)
		assert.Greater(t, rate, 0.0, "rate must stay above 0 at buffer %f", buffered)
		assert.LessOrEqual(t, rate, 2.0, "rate must stay at or below 2 at buffer %f", buffered)

		distance := controller.config.LatencyTarget - buffered
		if distance >= 0 && distance <= controller.config.RefreshLatency {
			assert.InDelta(t, 1.0, rate, 1e-9, "rate must be 1 inside the dead-band at buffer %f", buffered)
		}
	}
}

func TestSigmoidSaturation(t *testing.T) {
	assert.InDelta(t, 1.0, sigmoid(3, 3), 1e-9)
	assert.Less(t, sigmoid(-100, 3), 0.001)
	assert.Greater(t, sigmoid(100, 3), 1.999)
}

func TestTickAppliesRate(t *testing.T) {
	controller := NewController(nil, nil)
	media := newFakeMedia(0, nil)

	controller.tick(media)

	expected := 2.0 / (1.0 + math.Exp(1.5))
	assert.InDelta(t, expected, media.PlaybackRate(), 1e-9)
}

func TestTickMergesBufferHoles(t *testing.T) {
	config := DefaultConfig()
	config.MaxBufferHole = 0.5
	controller := NewController(config, nil)

	// 0..2 and 2.4..3.5 merge across the 0.4s hole: bufferLength = 3.5,
	// distance = -0.5 < 0, so the sigmoid applies
	media := newFakeMedia(0, []common.TimeRange{
		{Start: 0, End: 2},
		{Start: 2.4, End: 3.5},
	})
	controller.tick(media)

	assert.InDelta(t, sigmoid(3.5, 3.0), media.PlaybackRate(), 1e-9)
}

func TestAttachDetachStopsTicking(t *testing.T) {
	defer goleak.VerifyNone(t)

	config := DefaultConfig()
	config.Interval = time.Millisecond
	controller := NewController(config, nil)
	media := newFakeMedia(0, nil)

	controller.Attach(media)
	time.Sleep(20 * time.Millisecond)
	controller.Detach()

	// No tick may touch the sink after Detach returns
	rate := media.PlaybackRate()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, rate, media.PlaybackRate())
}

func TestDetachWithoutAttachIsNoop(t *testing.T) {
	controller := NewController(nil, nil)
	assert.NotPanics(t, controller.Detach)
}

func TestReattachReplacesLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	config := DefaultConfig()
	config.Interval = time.Millisecond
	controller := NewController(config, nil)

	first := newFakeMedia(0, nil)
	second := newFakeMedia(0, nil)

	controller.Attach(first)
	controller.Attach(second)
	firstRate := first.PlaybackRate()
	time.Sleep(10 * time.Millisecond)
	controller.Detach()

	// The first sink stopped receiving rate updates at re-attach
	assert.Equal(t, firstRate, first.PlaybackRate())
	assert.NotEqual(t, 1.0, second.PlaybackRate())
}
