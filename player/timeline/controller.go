package timeline

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/RyanBlaney/hls-player-core/logging"
	"github.com/RyanBlaney/hls-player-core/player/common"
	"github.com/RyanBlaney/hls-player-core/player/event"
	"github.com/RyanBlaney/hls-player-core/player/playlist"
	"github.com/RyanBlaney/hls-player-core/player/telemetry"
)

// IMSC1Codec is the sample entry codec string assigned to subtitle tracks
// detected as IMSC1
const IMSC1Codec = "stpp.ttml.im1t"

// WVTTCodec marks a subtitle track pinned to WebVTT
const WVTTCodec = "wvtt"

// VTTCC chains one discontinuity into the subtitle timeline
type VTTCC struct {
	Start  float64 `json:"start"`
	PrevCC int     `json:"prev_cc"`
	New    bool    `json:"new"`
}

// VTTCCMap is the per-discontinuity continuity table consumed by the WebVTT
// parser to keep cue timestamps monotonic across discontinuities
type VTTCCMap map[int]*VTTCC

// VTTParser parses a WebVTT payload against the continuity chain. InitPTS is
// in 90 kHz ticks.
type VTTParser interface {
	Parse(payload []byte, initPTS int64, vttCCs VTTCCMap, cc int) ([]*Cue, error)
}

// IMSCParser parses an IMSC1 (TTML) payload. InitPTS is in 90 kHz ticks.
type IMSCParser interface {
	Parse(payload []byte, initPTS int64) ([]*Cue, error)
}

// Config holds the timeline controller configuration
type Config struct {
	EnableWebVTT             bool `json:"enable_webvtt"`
	EnableIMSC1              bool `json:"enable_imsc1"`
	EnableCEA708Captions     bool `json:"enable_cea708_captions"`
	RenderTextTracksNatively bool `json:"render_text_tracks_natively"`

	CaptionsTextTrackLabels        [4]string `json:"captions_text_track_labels"`
	CaptionsTextTrackLanguageCodes [4]string `json:"captions_text_track_language_codes"`
}

// DefaultConfig returns the default timeline configuration
func DefaultConfig() *Config {
	return &Config{
		EnableWebVTT:             true,
		EnableIMSC1:              true,
		EnableCEA708Captions:     true,
		RenderTextTracksNatively: true,
		CaptionsTextTrackLabels: [4]string{
			"Unknown CC", "Unknown CC", "Unknown CC", "Unknown CC",
		},
	}
}

// ConfigFromEngine derives the timeline configuration from the engine config
func ConfigFromEngine(cfg *common.Config) *Config {
	return &Config{
		EnableWebVTT:                   cfg.EnableWebVTT,
		EnableIMSC1:                    cfg.EnableIMSC1,
		EnableCEA708Captions:           cfg.EnableCEA708Captions,
		RenderTextTracksNatively:       cfg.RenderTextTracksNatively,
		CaptionsTextTrackLabels:        cfg.CaptionsTextTrackLabels,
		CaptionsTextTrackLanguageCodes: cfg.CaptionsTextTrackLanguageCodes,
	}
}

type subtitleTrack struct {
	media     playlist.MediaTrack
	textCodec string
	track     *Track
}

type emission struct {
	event event.Event
	data  any
}

// Controller correlates decoded CEA-608/708 user-data, WebVTT and IMSC1
// subtitle fragments against the per-discontinuity initial-PTS table. All
// subtitle parsing for a discontinuity is deferred until the main track's
// initial PTS for it is known.
type Controller struct {
	bus     *event.Bus
	config  *Config
	logger  logging.Logger
	metrics *telemetry.Metrics

	cueFactory   CueFactory
	vttParser    VTTParser
	imscParser   IMSCParser
	cea608Field0 Cea608Parser
	cea608Field1 Cea608Parser

	mu               sync.Mutex
	initPTS          map[int]int64
	unparsedVttFrags []event.FragLoadedData
	vttCCs           VTTCCMap
	prevCC           int
	lastSN           int64
	hasLastSN        bool
	captionsTracks   map[int]*Track
	subtitleTracks   []*subtitleTrack

	subs []event.Subscription
}

// Option configures optional controller collaborators
type Option func(*Controller)

// WithVTTParser installs the WebVTT parser
func WithVTTParser(p VTTParser) Option { return func(c *Controller) { c.vttParser = p } }

// WithIMSCParser installs the IMSC1 parser
func WithIMSCParser(p IMSCParser) Option { return func(c *Controller) { c.imscParser = p } }

// WithCea608Parsers installs the CEA-608 field parsers (field 0 feeds
// channel 1, field 1 feeds channel 3)
func WithCea608Parsers(field0, field1 Cea608Parser) Option {
	return func(c *Controller) {
		c.cea608Field0 = field0
		c.cea608Field1 = field1
	}
}

// WithCueFactory installs a pluggable cue constructor
func WithCueFactory(f CueFactory) Option { return func(c *Controller) { c.cueFactory = f } }

// WithMetrics installs telemetry
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// NewController creates a timeline controller and subscribes it on the bus.
// A nil config uses defaults.
func NewController(bus *event.Bus, config *Config, opts ...Option) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Controller{
		bus:        bus,
		config:     config,
		cueFactory: DefaultCueFactory,
		logger: logging.WithFields(logging.Fields{
			"component": "timeline_controller",
		}),
		initPTS:        make(map[int]int64),
		vttCCs:         newVTTCCs(),
		prevCC:         0,
		captionsTracks: make(map[int]*Track),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.subs = []event.Subscription{
		bus.Subscribe(event.ManifestLoading, c.onManifestLoading),
		bus.Subscribe(event.ManifestLoaded, c.onManifestLoaded),
		bus.Subscribe(event.FragLoaded, c.onFragLoaded),
		bus.Subscribe(event.InitPTSFound, c.onInitPTSFound),
		bus.Subscribe(event.FragParsingUserdata, c.onFragParsingUserdata),
		bus.Subscribe(event.FragParsingInitSegment, c.onFragParsingInitSegment),
		bus.Subscribe(event.SubtitleTracksCleared, c.onSubtitleTracksCleared),
	}
	return c
}

// Destroy unsubscribes the controller from the bus
func (c *Controller) Destroy() {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
}

func newVTTCCs() VTTCCMap {
	return VTTCCMap{0: {Start: 0, PrevCC: -1, New: false}}
}

// InitPTS returns the recorded initial PTS for a discontinuity, in 90 kHz
// ticks, and whether it is known
func (c *Controller) InitPTS(cc int) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pts, ok := c.initPTS[cc]
	return pts, ok
}

// CaptionTrack returns the CEA caption track for a channel (1..4), nil if no
// cue has been delivered on it yet
func (c *Controller) CaptionTrack(channel int) *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captionsTracks[channel]
}

// SubtitleTrack returns the accepted-cue store of a subtitle track index
func (c *Controller) SubtitleTrack(id int) *Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.subtitleTracks) {
		return nil
	}
	return c.subtitleTracks[id].track
}

func (c *Controller) onManifestLoading(_ event.Event, _ any) {
	c.mu.Lock()
	c.initPTS = make(map[int]int64)
	c.unparsedVttFrags = nil
	c.vttCCs = newVTTCCs()
	c.prevCC = 0
	c.hasLastSN = false
	c.captionsTracks = make(map[int]*Track)
	c.subtitleTracks = nil
	c.mu.Unlock()
}

func (c *Controller) onManifestLoaded(_ event.Event, data any) {
	loaded, ok := data.(event.ManifestLoadedData)
	if !ok {
		return
	}

	c.mu.Lock()
	var emissions []emission
	if c.config.EnableWebVTT || c.config.EnableIMSC1 {
		for _, media := range loaded.Subtitles {
			c.subtitleTracks = append(c.subtitleTracks, &subtitleTrack{
				media: media,
				track: &Track{
					Label:    media.Name,
					Kind:     "subtitles",
					Language: media.Lang,
					Default:  media.Default,
				},
			})
		}
		if !c.config.RenderTextTracksNatively && len(c.subtitleTracks) > 0 {
			found := event.NonNativeTextTracksFoundData{}
			for _, st := range c.subtitleTracks {
				found.Tracks = append(found.Tracks, event.NonNativeTextTrack{
					Label:    st.track.Label,
					Kind:     st.track.Kind,
					Default:  st.track.Default,
					Language: st.track.Language,
				})
			}
			emissions = append(emissions, emission{event.NonNativeTextTracksFound, found})
		}
	}
	c.mu.Unlock()

	c.emit(emissions)
}

func (c *Controller) onFragLoaded(_ event.Event, data any) {
	loaded, ok := data.(event.FragLoadedData)
	if !ok || loaded.Frag == nil {
		return
	}

	switch loaded.Frag.Type {
	case common.PlaylistTypeMain:
		c.mu.Lock()
		// A jump in the main sequence means the embedded caption stream is
		// not continuous; stale decoder timing must not leak into new cues.
		if c.hasLastSN && loaded.Frag.SN != c.lastSN+1 {
			c.resetCea608Locked()
		}
		c.lastSN = loaded.Frag.SN
		c.hasLastSN = true
		c.mu.Unlock()
	case common.PlaylistTypeSubtitle:
		c.mu.Lock()
		emissions := c.processSubtitleFragLocked(loaded)
		c.mu.Unlock()
		c.emit(emissions)
	}
}

// processSubtitleFragLocked handles one loaded subtitle fragment: gate on
// the discontinuity's initial PTS, then parse and deliver cues.
func (c *Controller) processSubtitleFragLocked(loaded event.FragLoadedData) []emission {
	frag := loaded.Frag

	if !c.config.EnableWebVTT && !c.config.EnableIMSC1 {
		return nil
	}
	if len(loaded.Payload) == 0 {
		return []emission{{event.SubtitleFragProcessed, event.SubtitleFragProcessedData{
			Success: false,
			Frag:    frag,
			Error:   fmt.Errorf("empty subtitle fragment sn=%d", frag.SN),
		}}}
	}

	if _, ok := c.initPTS[frag.CC]; !ok {
		c.unparsedVttFrags = append(c.unparsedVttFrags, loaded)
		if len(c.initPTS) > 0 {
			// The fetcher only advances on a processed signal; with at
			// least one known discontinuity it will come back around.
			return []emission{{event.SubtitleFragProcessed, event.SubtitleFragProcessedData{
				Success: false,
				Frag:    frag,
				Error:   fmt.Errorf("missing init pts for cc %d", frag.CC),
			}}}
		}
		return nil
	}

	return c.parseSubtitleFragLocked(loaded)
}

func (c *Controller) parseSubtitleFragLocked(loaded event.FragLoadedData) []emission {
	frag := loaded.Frag
	initPTS := c.initPTS[frag.CC]
	c.ensureVTTCCLocked(frag)

	st := c.subtitleTrackForLocked(frag)
	if st == nil {
		return []emission{{event.SubtitleFragProcessed, event.SubtitleFragProcessedData{
			Success: false,
			Frag:    frag,
			Error:   fmt.Errorf("no subtitle track for level %d", frag.Level),
		}}}
	}

	cues, codec, err := c.parsePayloadLocked(st, loaded.Payload, initPTS, frag.CC)
	if codec != "" {
		st.textCodec = codec
	}
	if err != nil {
		return []emission{{event.SubtitleFragProcessed, event.SubtitleFragProcessedData{
			Success: false,
			Frag:    frag,
			Error:   err,
		}}}
	}

	emissions := c.deliverCuesLocked(st.track, "subtitles", subtitleTrackName(frag.Level), cues)
	emissions = append(emissions, emission{event.SubtitleFragProcessed, event.SubtitleFragProcessedData{
		Success: true,
		Frag:    frag,
	}})
	return emissions
}

// parsePayloadLocked runs the codec auto-detection ladder: a track with no
// known codec is tried as WebVTT first, then IMSC1; a successful IMSC1 parse
// pins the track to IMSC1, a failed one pins it to WebVTT for good.
func (c *Controller) parsePayloadLocked(st *subtitleTrack, payload []byte, initPTS int64, cc int) ([]*Cue, string, error) {
	switch st.textCodec {
	case IMSC1Codec:
		if !c.config.EnableIMSC1 || c.imscParser == nil {
			return nil, "", fmt.Errorf("imsc1 parsing disabled")
		}
		cues, err := c.imscParser.Parse(payload, initPTS)
		return cues, "", err
	case WVTTCodec:
		if !c.config.EnableWebVTT || c.vttParser == nil {
			return nil, "", fmt.Errorf("webvtt parsing disabled")
		}
		cues, err := c.vttParser.Parse(payload, initPTS, c.vttCCs, cc)
		return cues, "", err
	}

	if c.config.EnableWebVTT && c.vttParser != nil {
		cues, err := c.vttParser.Parse(payload, initPTS, c.vttCCs, cc)
		if err == nil {
			return cues, WVTTCodec, nil
		}
		c.logger.Debug("webvtt parse failed, trying imsc1", logging.Fields{
			"error": err.Error(),
		})
	}
	if c.config.EnableIMSC1 && c.imscParser != nil {
		cues, err := c.imscParser.Parse(payload, initPTS)
		if err == nil {
			return cues, IMSC1Codec, nil
		}
		return nil, WVTTCodec, err
	}
	return nil, "", fmt.Errorf("no subtitle parser available")
}

func (c *Controller) subtitleTrackForLocked(frag *playlist.Fragment) *subtitleTrack {
	if frag.Level >= 0 && frag.Level < len(c.subtitleTracks) {
		return c.subtitleTracks[frag.Level]
	}
	return nil
}

// ensureVTTCCLocked populates the continuity chain entry for a fragment's
// discontinuity before its payload is parsed
func (c *Controller) ensureVTTCCLocked(frag *playlist.Fragment) {
	if _, ok := c.vttCCs[frag.CC]; ok {
		return
	}
	c.vttCCs[frag.CC] = &VTTCC{
		Start:  frag.Start,
		PrevCC: c.prevCC,
		New:    true,
	}
	c.prevCC = frag.CC
}

func (c *Controller) onInitPTSFound(_ event.Event, data any) {
	found, ok := data.(event.InitPTSFoundData)
	if !ok || found.Frag == nil {
		return
	}
	if found.Frag.Type != common.PlaylistTypeMain {
		return
	}

	c.mu.Lock()
	c.initPTS[found.Frag.CC] = found.InitPTS
	emissions := c.drainUnparsedLocked()
	c.mu.Unlock()
	c.emit(emissions)
}

// drainUnparsedLocked reissues every deferred subtitle fragment. Draining is
// synchronous within the triggering handler; fragments that are still gated
// re-queue themselves behind the drained items.
func (c *Controller) drainUnparsedLocked() []emission {
	pending := c.unparsedVttFrags
	c.unparsedVttFrags = nil

	var emissions []emission
	for _, loaded := range pending {
		emissions = append(emissions, c.processSubtitleFragLocked(loaded)...)
	}
	return emissions
}

func (c *Controller) onFragParsingInitSegment(_ event.Event, data any) {
	parsed, ok := data.(event.FragParsingInitSegmentData)
	if !ok || parsed.Frag == nil {
		return
	}

	c.mu.Lock()
	var emissions []emission
	// Streams with no video never emit an initial PTS; anchor captions at
	// one second (90000 ticks) so they can still render.
	if len(c.initPTS) == 0 {
		c.initPTS[parsed.Frag.CC] = 90000
		emissions = c.drainUnparsedLocked()
	}
	c.mu.Unlock()
	c.emit(emissions)
}

func (c *Controller) onFragParsingUserdata(_ event.Event, data any) {
	userdata, ok := data.(event.FragParsingUserdataData)
	if !ok {
		return
	}
	if !c.config.EnableCEA708Captions || c.cea608Field0 == nil {
		return
	}

	for _, sample := range userdata.Samples {
		field0, field1 := extractCea608Data(sample.Bytes)
		if len(field0) > 0 {
			c.cea608Field0.AddData(sample.PTS, field0)
		}
		if len(field1) > 0 && c.cea608Field1 != nil {
			c.cea608Field1.AddData(sample.PTS, field1)
		}
	}
}

func (c *Controller) onSubtitleTracksCleared(_ event.Event, _ any) {
	c.mu.Lock()
	c.subtitleTracks = nil
	c.unparsedVttFrags = nil
	c.mu.Unlock()
}

// AddCaptionCue is the output hook for the external CEA-608 parsers: it
// delivers one decoded cue on a caption channel (1..4), applying track
// creation and overlap de-duplication.
func (c *Controller) AddCaptionCue(channel int, start, end float64, text string) {
	if channel < 1 || channel > 4 {
		return
	}

	c.mu.Lock()
	track, created := c.captionTrackLocked(channel)
	cue := c.cueFactory(start, end, text)
	accepted := track.AddCue(cue)
	trackName := captionTrackName(channel)

	var emissions []emission
	if created && !c.config.RenderTextTracksNatively {
		emissions = append(emissions, emission{event.NonNativeTextTracksFound, event.NonNativeTextTracksFoundData{
			Tracks: []event.NonNativeTextTrack{{
				Label:    track.Label,
				Kind:     track.Kind,
				Language: track.Language,
			}},
		}})
	}
	if accepted {
		if c.metrics != nil {
			c.metrics.CuesDelivered.WithLabelValues(trackName).Inc()
		}
		if !c.config.RenderTextTracksNatively {
			emissions = append(emissions, emission{event.CuesParsed, event.CuesParsedData{
				Type:  "captions",
				Cues:  []any{cue},
				Track: trackName,
			}})
		}
	} else if c.metrics != nil {
		c.metrics.CuesDropped.WithLabelValues(trackName).Inc()
	}
	c.mu.Unlock()

	c.emit(emissions)
}

func (c *Controller) captionTrackLocked(channel int) (*Track, bool) {
	if track, ok := c.captionsTracks[channel]; ok {
		return track, false
	}
	track := &Track{
		Label:    c.config.CaptionsTextTrackLabels[channel-1],
		Kind:     "captions",
		Language: c.config.CaptionsTextTrackLanguageCodes[channel-1],
	}
	c.captionsTracks[channel] = track
	return track, true
}

// deliverCuesLocked routes parsed cues through de-duplication and, when not
// rendering natively, emits them as a CuesParsed event
func (c *Controller) deliverCuesLocked(track *Track, cueType, trackName string, cues []*Cue) []emission {
	var accepted []any
	for _, cue := range cues {
		if track.AddCue(cue) {
			accepted = append(accepted, cue)
			if c.metrics != nil {
				c.metrics.CuesDelivered.WithLabelValues(trackName).Inc()
			}
		} else if c.metrics != nil {
			c.metrics.CuesDropped.WithLabelValues(trackName).Inc()
		}
	}

	if len(accepted) == 0 || c.config.RenderTextTracksNatively {
		return nil
	}
	return []emission{{event.CuesParsed, event.CuesParsedData{
		Type:  cueType,
		Cues:  accepted,
		Track: trackName,
	}}}
}

func (c *Controller) resetCea608Locked() {
	if c.cea608Field0 != nil {
		c.cea608Field0.Reset()
	}
	if c.cea608Field1 != nil {
		c.cea608Field1.Reset()
	}
}

func (c *Controller) emit(emissions []emission) {
	for _, e := range emissions {
		c.bus.Emit(e.event, e.data)
	}
}

func captionTrackName(channel int) string {
	return "textTrack" + strconv.Itoa(channel)
}

func subtitleTrackName(level int) string {
	return "subtitleTrack" + strconv.Itoa(level)
}
