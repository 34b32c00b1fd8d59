// Package player wires the engine core together: the event bus, the level
// controller, the buffer operation queue, the playback-rate controller and
// the timeline controller. External collaborators (loader, ABR estimator,
// demuxer, media-source wiring) interact with the engine exclusively through
// the bus.
package player

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/RyanBlaney/hls-player-core/player/buffer"
	"github.com/RyanBlaney/hls-player-core/player/common"
	"github.com/RyanBlaney/hls-player-core/player/event"
	"github.com/RyanBlaney/hls-player-core/player/level"
	"github.com/RyanBlaney/hls-player-core/player/rate"
	"github.com/RyanBlaney/hls-player-core/player/telemetry"
	"github.com/RyanBlaney/hls-player-core/player/timeline"
)

// Engine is the assembled player core
type Engine struct {
	bus     *event.Bus
	config  *common.Config
	metrics *telemetry.Metrics

	levels      *level.Controller
	timeline    *timeline.Controller
	rate        *rate.Controller
	bufferQueue *buffer.Queue

	media common.Media
}

// Options configures engine construction
type Options struct {
	// Registerer receives the engine's prometheus collectors; nil uses the
	// default registerer, and DisableTelemetry turns telemetry off
	Registerer prometheus.Registerer

	// DisableTelemetry turns prometheus instrumentation off entirely
	DisableTelemetry bool

	// ABR supplies automatic rendition choices
	ABR level.ABRProvider

	// Subtitle/caption parser collaborators
	VTTParser    timeline.VTTParser
	IMSCParser   timeline.IMSCParser
	Cea608Field0 timeline.Cea608Parser
	Cea608Field1 timeline.Cea608Parser
	CueFactory   timeline.CueFactory
}

// New assembles an engine from configuration and environment capabilities.
// A nil config uses defaults.
func New(config *common.Config, capabilities common.Capabilities, opts *Options) *Engine {
	if config == nil {
		config = common.DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}

	e := &Engine{
		bus:    event.NewBus(),
		config: config,
	}
	if !opts.DisableTelemetry {
		e.metrics = telemetry.New(opts.Registerer)
	}

	levelOpts := []level.Option{level.WithMetrics(e.metrics)}
	if opts.ABR != nil {
		levelOpts = append(levelOpts, level.WithABRProvider(opts.ABR))
	}
	e.levels = level.NewController(e.bus, level.ConfigFromEngine(config), capabilities, levelOpts...)

	timelineOpts := []timeline.Option{timeline.WithMetrics(e.metrics)}
	if opts.VTTParser != nil {
		timelineOpts = append(timelineOpts, timeline.WithVTTParser(opts.VTTParser))
	}
	if opts.IMSCParser != nil {
		timelineOpts = append(timelineOpts, timeline.WithIMSCParser(opts.IMSCParser))
	}
	if opts.Cea608Field0 != nil {
		timelineOpts = append(timelineOpts, timeline.WithCea608Parsers(opts.Cea608Field0, opts.Cea608Field1))
	}
	if opts.CueFactory != nil {
		timelineOpts = append(timelineOpts, timeline.WithCueFactory(opts.CueFactory))
	}
	e.timeline = timeline.NewController(e.bus, timeline.ConfigFromEngine(config), timelineOpts...)

	e.rate = rate.NewController(&rate.Config{
		LatencyTarget:  config.LatencyTarget.Seconds(),
		RefreshLatency: config.RefreshLatency.Seconds(),
		MaxBufferHole:  config.MaxBufferHole,
		Interval:       rate.DefaultConfig().Interval,
	}, e.metrics)

	e.bufferQueue = buffer.NewQueue(e.metrics)

	return e
}

// Bus returns the engine's event bus
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Levels returns the level controller
func (e *Engine) Levels() *level.Controller {
	return e.levels
}

// Timeline returns the timeline controller
func (e *Engine) Timeline() *timeline.Controller {
	return e.timeline
}

// BufferQueue returns the buffer operation queue
func (e *Engine) BufferQueue() *buffer.Queue {
	return e.bufferQueue
}

// AttachMedia attaches the media sink and starts the playback-rate loop
func (e *Engine) AttachMedia(media common.Media) {
	e.media = media
	e.bus.Emit(event.MediaAttaching, event.MediaAttachingData{Media: media})
	e.rate.Attach(media)
}

// DetachMedia stops the playback-rate loop before releasing the sink
func (e *Engine) DetachMedia() {
	e.rate.Detach()
	e.media = nil
	e.bus.Emit(event.MediaDetaching, nil)
}

// StartLoad enables playlist loading
func (e *Engine) StartLoad() {
	e.levels.StartLoad()
}

// StopLoad disables playlist loading and disarms reload timers
func (e *Engine) StopLoad() {
	e.levels.StopLoad()
}

// Destroy tears the engine down: media detached, controllers unsubscribed
func (e *Engine) Destroy() {
	e.rate.Detach()
	e.levels.Destroy()
	e.timeline.Destroy()
	e.media = nil
}
