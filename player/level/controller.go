// Package level manages the set of alternative bitrate renditions: manifest
// admission and codec filtering, rendition switching, live playlist reload
// scheduling including low-latency blocking reloads, and load-error recovery
// with exponential backoff and redundant-URL failover.
package level

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/hls-player-core/logging"
	"github.com/RyanBlaney/hls-player-core/player/common"
	"github.com/RyanBlaney/hls-player-core/player/event"
	"github.com/RyanBlaney/hls-player-core/player/playlist"
	"github.com/RyanBlaney/hls-player-core/player/telemetry"
)

// chromeMP3Codec is the MPEG audio codec string some user agents refuse to
// probe; erasing it lets the demuxer auto-detect the stream instead
const chromeMP3Codec = "mp4a.40.34"

// ABRProvider supplies the bandwidth estimator's rendition choice when no
// level is pinned manually
type ABRProvider interface {
	NextAutoLevel() int
}

type emission struct {
	event event.Event
	data  any
}

// Controller owns the Level vector and is its sole mutator. All interaction
// with the rest of the engine goes through the event bus.
type Controller struct {
	bus          *event.Bus
	config       *Config
	capabilities common.Capabilities
	abr          ABRProvider
	logger       logging.Logger
	metrics      *telemetry.Metrics

	mu              sync.Mutex
	levels          []*playlist.Level
	audioTracks     []playlist.MediaTrack
	curLevelIdx     int
	hasCurLevel     bool
	manualLevelIdx  int
	startLevelIdx   int
	startLevelSet   bool
	firstLevelIdx   int
	canLoad         bool
	levelRetryCount int

	timer           *time.Timer
	timerGen        int
	lastReloadDelay time.Duration

	subs []event.Subscription
}

// Option configures optional controller collaborators
type Option func(*Controller)

// WithABRProvider installs the automatic rendition chooser
func WithABRProvider(abr ABRProvider) Option { return func(c *Controller) { c.abr = abr } }

// WithMetrics installs telemetry
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// NewController creates a level controller and subscribes it on the bus. A
// nil config uses defaults.
func NewController(bus *event.Bus, config *Config, capabilities common.Capabilities, opts ...Option) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Controller{
		bus:            bus,
		config:         config,
		capabilities:   capabilities,
		manualLevelIdx: -1,
		logger: logging.WithFields(logging.Fields{
			"component": "level_controller",
		}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.subs = []event.Subscription{
		bus.Subscribe(event.ManifestLoaded, c.onManifestLoaded),
		bus.Subscribe(event.LevelLoaded, c.onLevelLoaded),
		bus.Subscribe(event.AudioTrackSwitched, c.onAudioTrackSwitched),
		bus.Subscribe(event.Error, c.onError),
	}
	return c
}

// Destroy stops the reload timer and unsubscribes the controller
func (c *Controller) Destroy() {
	c.mu.Lock()
	c.clearTimerLocked()
	c.mu.Unlock()

	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
}

// Levels returns the current level vector
func (c *Controller) Levels() []*playlist.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels
}

// Level returns the current level index, -1 when none is selected
func (c *Controller) Level() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCurLevel {
		return -1
	}
	return c.curLevelIdx
}

// FirstLevel returns the sorted index of the manifest's original first
// rendition
func (c *Controller) FirstLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstLevelIdx
}

// ManualLevel returns the pinned level index, -1 in auto mode
func (c *Controller) ManualLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manualLevelIdx
}

// SetManualLevel pins the rendition (-1 returns to automatic selection)
func (c *Controller) SetManualLevel(idx int) {
	c.mu.Lock()
	c.manualLevelIdx = idx
	c.mu.Unlock()
	if idx != -1 {
		c.SetLevel(idx)
	}
}

// NextLoadLevel returns the level the next load should target: the manual
// pin when set, else the ABR choice, else the current level
func (c *Controller) NextLoadLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manualLevelIdx != -1 {
		return c.manualLevelIdx
	}
	if c.abr != nil {
		return c.abr.NextAutoLevel()
	}
	if c.hasCurLevel {
		return c.curLevelIdx
	}
	return 0
}

// StartLevel resolves the initial rendition: explicitly set value, then
// config, then the manifest's first rendition
func (c *Controller) StartLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLevelLocked()
}

func (c *Controller) startLevelLocked() int {
	if c.startLevelSet {
		return c.startLevelIdx
	}
	if c.config.StartLevel != -1 {
		return c.config.StartLevel
	}
	return c.firstLevelIdx
}

// SetStartLevel overrides the initial rendition
func (c *Controller) SetStartLevel(idx int) {
	c.mu.Lock()
	c.startLevelIdx = idx
	c.startLevelSet = true
	c.mu.Unlock()
}

// StartLoad enables loading and (re)triggers the current or start level
func (c *Controller) StartLoad() {
	c.mu.Lock()
	c.canLoad = true
	c.levelRetryCount = 0
	for _, level := range c.levels {
		level.LoadError = 0
	}
	target := c.curLevelIdx
	if !c.hasCurLevel {
		target = c.startLevelLocked()
	}
	hasLevels := len(c.levels) > 0
	c.mu.Unlock()

	if hasLevels {
		c.SetLevel(target)
	}
}

// StopLoad disables loading and disarms any reload timer
func (c *Controller) StopLoad() {
	c.mu.Lock()
	c.canLoad = false
	c.clearTimerLocked()
	c.mu.Unlock()
}

// SetLevel switches the current rendition. The index is clamped to the top
// of the level set; a switch cancels any armed reload, announces the change
// and, when details are missing or live, requests a playlist load.
func (c *Controller) SetLevel(idx int) {
	c.mu.Lock()
	var emissions []emission
	if len(c.levels) == 0 {
		emissions = append(emissions, c.invalidLevelLocked(idx))
	} else {
		if idx > len(c.levels)-1 {
			idx = len(c.levels) - 1
		}
		if !c.hasCurLevel || c.curLevelIdx != idx ||
			c.levels[idx].Details == nil || c.levels[idx].Details.Live {
			emissions = c.setLevelLocked(idx)
		}
	}
	c.mu.Unlock()
	c.emit(emissions)
}

func (c *Controller) setLevelLocked(idx int) []emission {
	if idx < 0 || idx >= len(c.levels) {
		return []emission{c.invalidLevelLocked(idx)}
	}

	// A pending reload belongs to the previous selection
	c.clearTimerLocked()

	var emissions []emission
	if !c.hasCurLevel || c.curLevelIdx != idx {
		c.logger.Debug("switching level", logging.Fields{
			"level": idx,
		})
		level := c.levels[idx]
		emissions = append(emissions, emission{event.LevelSwitching, event.LevelSwitchingData{
			Level:   idx,
			Bitrate: level.Bitrate,
			Name:    level.Name,
		}})
	}
	c.curLevelIdx = idx
	c.hasCurLevel = true

	level := c.levels[idx]
	if level.Details == nil || level.Details.Live {
		if c.canLoad {
			emissions = append(emissions, emission{event.LevelLoading, event.LevelLoadingData{
				URL:   level.ActiveURL(),
				Level: idx,
				ID:    level.URLID,
			}})
		}
	}
	return emissions
}

func (c *Controller) invalidLevelLocked(idx int) emission {
	err := common.NewPlayerErrorWithFields(common.OtherError, common.ErrLevelSwitchError, false,
		"invalid level idx", nil, logging.Fields{"level": idx})
	return emission{event.Error, &event.ErrorData{
		Type:    err.Type,
		Details: err.Details,
		Fatal:   false,
		Err:     err,
		Level:   idx,
		Reason:  err.Message,
	}}
}

// onManifestLoaded performs manifest admission: group by bitrate, attach
// rendition groups, filter unsupported codecs, sort, locate the first level.
func (c *Controller) onManifestLoaded(_ event.Event, data any) {
	loaded, ok := data.(event.ManifestLoadedData)
	if !ok {
		return
	}

	c.mu.Lock()
	byBitrate := make(map[int]*playlist.Level)
	var levels []*playlist.Level
	audioCodecFound := false
	videoCodecFound := false

	for _, parsed := range loaded.Levels {
		audioCodecFound = audioCodecFound || parsed.AudioCodec != ""
		videoCodecFound = videoCodecFound || parsed.VideoCodec != ""

		// The audio workaround: some user agents cannot probe MPEG audio
		// inside mp4a.40.34; erasing the codec lets the demuxer detect it
		if c.capabilities.ChromeOrFirefox && strings.Contains(parsed.AudioCodec, chromeMP3Codec) {
			parsed.AudioCodec = ""
		}

		if existing, ok := byBitrate[parsed.Bitrate]; ok {
			existing.AddRedundantURL(parsed.URL)
			existing.AddGroupIDs(parsed)
		} else {
			level := playlist.NewLevel(parsed)
			byBitrate[parsed.Bitrate] = level
			levels = append(levels, level)
		}
	}

	filtered := levels[:0]
	for _, level := range levels {
		// With a muxed A/V ladder present, audio-only levels are not
		// playable alternatives
		if videoCodecFound && audioCodecFound && level.VideoCodec == "" {
			continue
		}
		if !c.capabilities.SupportsCodec(level.AudioCodec, "audio") {
			continue
		}
		if !c.capabilities.SupportsCodec(level.VideoCodec, "video") {
			continue
		}
		filtered = append(filtered, level)
	}
	levels = filtered

	if len(levels) == 0 {
		c.mu.Unlock()
		err := common.NewPlayerError(common.MediaError, common.ErrManifestIncompatibleCodecs, true,
			"no level with compatible codecs found in manifest", nil)
		err.URL = loaded.URL
		c.emit([]emission{{event.Error, &event.ErrorData{
			Type:    err.Type,
			Details: err.Details,
			Fatal:   true,
			Err:     err,
			Reason:  err.Message,
		}}})
		return
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Bitrate < levels[j].Bitrate
	})

	c.levels = levels
	c.audioTracks = loaded.AudioTracks
	c.firstLevelIdx = 0
	if len(loaded.Levels) > 0 {
		firstBitrate := loaded.Levels[0].Bitrate
		for i, level := range levels {
			if level.Bitrate == firstBitrate {
				c.firstLevelIdx = i
				break
			}
		}
	}

	altAudio := false
	for _, track := range loaded.AudioTracks {
		if track.URL != "" {
			altAudio = true
			break
		}
	}

	parsed := event.ManifestParsedData{
		Levels:      levels,
		AudioTracks: loaded.AudioTracks,
		FirstLevel:  c.firstLevelIdx,
		Stats:       loaded.Stats,
		Audio:       audioCodecFound,
		Video:       videoCodecFound,
		AltAudio:    altAudio,
	}
	c.mu.Unlock()

	c.emit([]emission{{event.ManifestParsed, parsed}})
}

// onLevelLoaded installs freshly loaded details on the current level and
// schedules the next live reload
func (c *Controller) onLevelLoaded(_ event.Event, data any) {
	loaded, ok := data.(event.LevelLoadedData)
	if !ok || loaded.Details == nil {
		return
	}

	c.mu.Lock()
	// Stale completions from a previous selection are discarded
	if !c.hasCurLevel || loaded.Level != c.curLevelIdx || loaded.Level >= len(c.levels) {
		c.mu.Unlock()
		return
	}
	level := c.levels[loaded.Level]

	if !level.FragmentError {
		level.LoadError = 0
		c.levelRetryCount = 0
	}

	details := loaded.Details
	playlist.MergeDetails(level.Details, details)
	level.Details = details

	if c.metrics != nil {
		outcome := "stale"
		if details.Updated {
			outcome = "updated"
		}
		c.metrics.LevelReloads.WithLabelValues(outcome).Inc()
	}

	if !details.Live {
		c.clearTimerLocked()
		c.mu.Unlock()
		return
	}

	loadDuration := time.Duration(loaded.Stats.TLoad-loaded.Stats.TRequest) * time.Millisecond
	if loadDuration < 0 {
		loadDuration = 0
	}
	interval := details.ReloadInterval(loadDuration)

	if details.CanBlockReload() && details.PartTarget > 0 {
		delay := interval - 100*time.Millisecond
		if delay < 100*time.Millisecond {
			delay = 100 * time.Millisecond
		}
		c.armTimerLocked(delay, func() { c.loadLowLatencyLevel() })
	} else {
		c.armTimerLocked(interval, func() { c.loadLevel() })
	}
	c.mu.Unlock()
}

// loadLevel re-requests the current level playlist
func (c *Controller) loadLevel() {
	c.mu.Lock()
	var emissions []emission
	if c.canLoad && c.hasCurLevel && c.curLevelIdx < len(c.levels) {
		level := c.levels[c.curLevelIdx]
		emissions = append(emissions, emission{event.LevelLoading, event.LevelLoadingData{
			URL:   level.ActiveURL(),
			Level: c.curLevelIdx,
			ID:    level.URLID,
		}})
	}
	c.mu.Unlock()
	c.emit(emissions)
}

// loadLowLatencyLevel requests a blocking playlist reload. The requested
// sequence number advances past the current edge only when the previous
// reload actually updated the playlist; part advancement is intentionally
// not requested.
func (c *Controller) loadLowLatencyLevel() {
	c.mu.Lock()
	var emissions []emission
	if c.canLoad && c.hasCurLevel && c.curLevelIdx < len(c.levels) {
		level := c.levels[c.curLevelIdx]
		if details := level.Details; details != nil {
			msn := details.EndSN
			if details.Updated {
				msn++
			}
			url := playlist.BuildBlockingReloadURL(level.ActiveURL(), msn, -1, false, details.CanSkipUntil())
			emissions = append(emissions, emission{event.LevelLoading, event.LevelLoadingData{
				URL:   url,
				Level: c.curLevelIdx,
				ID:    level.URLID,
			}})
		}
	}
	c.mu.Unlock()
	c.emit(emissions)
}

// onAudioTrackSwitched re-binds the active redundant URL to the one carrying
// the newly selected audio group
func (c *Controller) onAudioTrackSwitched(_ event.Event, data any) {
	switched, ok := data.(event.AudioTrackSwitchedData)
	if !ok {
		return
	}

	c.mu.Lock()
	var emissions []emission
	if c.hasCurLevel && c.curLevelIdx < len(c.levels) &&
		switched.ID >= 0 && switched.ID < len(c.audioTracks) {
		groupID := c.audioTracks[switched.ID].GroupID
		level := c.levels[c.curLevelIdx]

		urlID := -1
		for i, id := range level.AudioGroupIDs {
			if id == groupID {
				urlID = i
				break
			}
		}
		if urlID >= 0 && urlID != level.URLID {
			level.URLID = urlID
			level.Details = nil
			emissions = c.setLevelLocked(c.curLevelIdx)
		}
	}
	c.mu.Unlock()
	c.emit(emissions)
}

// RemoveLevel drops a level, or just one of its redundant URLs when urlID is
// non-negative and the level has backups. Remaining fragments are reindexed
// to their owning level's new position.
func (c *Controller) RemoveLevel(index int, urlID int) {
	c.mu.Lock()
	var kept []*playlist.Level
	for i, level := range c.levels {
		if i != index {
			kept = append(kept, level)
			continue
		}
		if len(level.URL) > 1 && urlID >= 0 && urlID < len(level.URL) {
			level.URL = append(level.URL[:urlID:urlID], level.URL[urlID+1:]...)
			level.URLID = 0
			kept = append(kept, level)
		}
	}
	for i, level := range kept {
		if level.Details != nil {
			for _, frag := range level.Details.Fragments {
				frag.Level = i
			}
		}
	}
	c.levels = kept
	updated := event.LevelsUpdatedData{Levels: kept}
	c.mu.Unlock()

	c.emit([]emission{{event.LevelsUpdated, updated}})
}

// onError drives the recovery state machine for non-fatal load errors
func (c *Controller) onError(_ event.Event, data any) {
	errData, ok := data.(*event.ErrorData)
	if !ok {
		return
	}
	if errData.Fatal {
		c.mu.Lock()
		c.clearTimerLocked()
		c.mu.Unlock()
		return
	}

	levelIdx := -1
	levelError := false
	fragmentError := false
	switch errData.Details {
	case common.ErrFragLoadError, common.ErrFragLoadTimeout,
		common.ErrKeyLoadError, common.ErrKeyLoadTimeout:
		if errData.Frag == nil {
			return
		}
		levelIdx = errData.Frag.Level
		fragmentError = true
	case common.ErrLevelLoadError, common.ErrLevelLoadTimeout:
		if !errData.HasLevel {
			return
		}
		levelIdx = errData.Level
		levelError = true
	case common.ErrRemuxAllocError:
		if !errData.HasLevel {
			return
		}
		levelIdx = errData.Level
		levelError = true
	default:
		return
	}

	if c.metrics != nil {
		c.metrics.LevelLoadErrors.WithLabelValues(string(errData.Details)).Inc()
	}
	c.recoverLevel(errData, levelIdx, levelError, fragmentError)
}

// recoverLevel implements the error recovery ladder: level-scoped backoff
// retries first, then redundant-URL rotation, then rendition switch-down.
// Backoff is scheduled before the URL switch so the two compose.
func (c *Controller) recoverLevel(errData *event.ErrorData, levelIdx int, levelError, fragmentError bool) {
	c.mu.Lock()
	if len(c.levels) == 0 || levelIdx < 0 || levelIdx >= len(c.levels) {
		// Recovery with no level set is an internal inconsistency; it is
		// surfaced as fatal rather than silently corrupting state.
		c.clearTimerLocked()
		c.mu.Unlock()
		err := common.NewPlayerErrorWithFields(common.OtherError, common.ErrInternalException, true,
			"level recovery with no matching level", nil, logging.Fields{"level": levelIdx})
		c.emit([]emission{{event.Error, &event.ErrorData{
			Type:    err.Type,
			Details: err.Details,
			Fatal:   true,
			Err:     err,
			Reason:  err.Message,
		}}})
		return
	}

	level := c.levels[levelIdx]
	level.LoadError++
	level.FragmentError = fragmentError

	var emissions []emission
	if levelError {
		if c.levelRetryCount+1 <= c.config.LevelLoadingMaxRetry {
			delay := c.config.LevelLoadingRetryDelay << uint(c.levelRetryCount)
			if delay > c.config.LevelLoadingMaxRetryTimeout {
				delay = c.config.LevelLoadingMaxRetryTimeout
			}
			c.armTimerLocked(delay, func() { c.loadLevel() })
			errData.LevelRetry = true
			c.levelRetryCount++
			if c.metrics != nil {
				c.metrics.LevelRetries.Inc()
			}
			c.logger.Warn("level load error, retry scheduled", logging.Fields{
				"level":    levelIdx,
				"retry":    c.levelRetryCount,
				"delay_ms": delay.Milliseconds(),
			})
		} else {
			c.logger.Error(errData.Err, fmt.Sprintf("cannot recover from %s error", errData.Details))
			c.hasCurLevel = false
			c.clearTimerLocked()
			errData.Fatal = true
			if c.metrics != nil {
				c.metrics.FatalErrors.Inc()
			}
			c.mu.Unlock()
			c.emit(emissions)
			return
		}
	}

	if levelError || fragmentError {
		if redundant := len(level.URL); redundant > 1 && level.LoadError < redundant {
			level.URLID = (level.URLID + 1) % redundant
			level.Details = nil
			if c.metrics != nil {
				c.metrics.RedundantSwitch.Inc()
			}
			c.logger.Warn("switching to redundant URL", logging.Fields{
				"level":  levelIdx,
				"url_id": level.URLID,
			})
		} else if c.manualLevelIdx == -1 {
			// Auto mode: walk one rendition down, wrapping to the top. The
			// index moves silently; the armed retry (or the next fragment
			// load) picks the new level up, so backoff and the switch
			// compose.
			nextLevel := levelIdx - 1
			if levelIdx == 0 {
				nextLevel = len(c.levels) - 1
			}
			if !c.hasCurLevel || c.curLevelIdx != nextLevel {
				c.logger.Warn("switching down after load errors", logging.Fields{
					"from": levelIdx,
					"to":   nextLevel,
				})
				c.curLevelIdx = nextLevel
				c.hasCurLevel = true
			}
		} else if fragmentError {
			// Manual mode: null the selection so a subsequent set level
			// re-triggers loading
			c.hasCurLevel = false
		}
	}
	c.mu.Unlock()
	c.emit(emissions)
}

// armTimerLocked replaces any pending reload: at most one reload may be
// armed per controller
func (c *Controller) armTimerLocked(delay time.Duration, fn func()) {
	c.clearTimerLocked()
	c.timerGen++
	gen := c.timerGen
	c.lastReloadDelay = delay
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		live := gen == c.timerGen
		c.mu.Unlock()
		if live {
			fn()
		}
	})
}

func (c *Controller) clearTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

// HasPendingReload reports whether a reload timer is armed
func (c *Controller) HasPendingReload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Controller) emit(emissions []emission) {
	for _, e := range emissions {
		c.bus.Emit(e.event, e.data)
	}
}
