// Package rate implements the closed-loop playback-rate controller that
// nudges the playback rate toward a latency target. It samples the media
// sink on a fixed interval and applies a saturating sigmoid gain driven by
// the forward buffer length.
package rate

import (
	"math"
	"sync"
	"time"

	"github.com/RyanBlaney/hls-player-core/logging"
	"github.com/RyanBlaney/hls-player-core/player/common"
	"github.com/RyanBlaney/hls-player-core/player/telemetry"
)

// Config holds the controller tuning
type Config struct {
	// LatencyTarget is the forward buffer length, in seconds, the
	// controller steers toward
	LatencyTarget float64 `json:"latency_target"`

	// RefreshLatency is the dead-band, in seconds, below the target within
	// which the rate stays at 1.0
	RefreshLatency float64 `json:"refresh_latency"`

	// MaxBufferHole is the largest gap still treated as contiguous buffer
	MaxBufferHole float64 `json:"max_buffer_hole"`

	// Interval between samples
	Interval time.Duration `json:"interval"`
}

// DefaultConfig returns the default rate controller configuration
func DefaultConfig() *Config {
	return &Config{
		LatencyTarget:  3.0,
		RefreshLatency: 1.0,
		MaxBufferHole:  0.5,
		Interval:       250 * time.Millisecond,
	}
}

// Controller periodically samples the attached media and adjusts its
// playback rate. Active only between Attach and Detach.
type Controller struct {
	mu      sync.Mutex
	media   common.Media
	stop    chan struct{}
	done    chan struct{}
	config  *Config
	logger  logging.Logger
	metrics *telemetry.Metrics
}

// NewController creates a rate controller; a nil config uses defaults
func NewController(config *Config, metrics *telemetry.Metrics) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Controller{
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "playback_rate_controller",
		}),
		metrics: metrics,
	}
}

// Attach starts the sampling loop against the given media. A previous
// attachment is torn down first.
func (c *Controller) Attach(media common.Media) {
	c.Detach()

	c.mu.Lock()
	c.media = media
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go c.run(media, stop, done)
}

// Detach stops the sampling loop atomically: after Detach returns, no
// further tick may touch the sink.
func (c *Controller) Detach() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.media = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (c *Controller) run(media common.Media, stop chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(media)
		}
	}
}

func (c *Controller) tick(media common.Media) {
	pos := media.CurrentTime()
	bufferLength := common.ForwardBufferLength(media.Buffered(), pos, c.config.MaxBufferHole)

	rate := c.computeRate(bufferLength)
	if media.PlaybackRate() != rate {
		c.logger.Debug("adjusting playback rate", logging.Fields{
			"buffer_length": bufferLength,
			"rate":          rate,
		})
	}
	media.SetPlaybackRate(rate)
	if c.metrics != nil {
		c.metrics.PlaybackRate.Set(rate)
	}
}

// computeRate returns 1.0 inside the dead-band and the sigmoid gain outside
// it. distance < 0 means too much buffer (speed up past the target);
// distance > RefreshLatency means the buffer has drained below target.
func (c *Controller) computeRate(bufferLength float64) float64 {
	distance := c.config.LatencyTarget - bufferLength
	if distance < 0 || distance > c.config.RefreshLatency {
		return sigmoid(bufferLength, c.config.LatencyTarget)
	}
	return 1.0
}

// sigmoid is the saturating gain L / (1 + exp(-k*(x - x0))) with L=2, k=0.5:
// far below target the rate tends to 0, far above it tends to 2, at the
// target it is exactly 1.
func sigmoid(x, x0 float64) float64 {
	const (
		l = 2.0
		k = 0.5
	)
	return l / (1 + math.Exp(-k*(x-x0)))
}
