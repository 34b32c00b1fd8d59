package remux

import (
	"github.com/RyanBlaney/hls-player-core/logging"
)

// PassThroughRemuxer forwards fMP4 payloads as-is, maintaining DTS
// continuity across segments: each fragment's reported start DTS is the
// previous fragment's end DTS, and its decode times are shifted by -initPTS.
type PassThroughRemuxer struct {
	initData        *InitData
	initSegmentData []byte
	audioCodec      string
	videoCodec      string

	initPTS    float64
	hasInitPTS bool

	lastEndDTS    float64
	hasLastEndDTS bool

	emitInitSegment bool

	logger logging.Logger
}

var _ Remuxer = (*PassThroughRemuxer)(nil)

// NewPassThroughRemuxer creates a pass-through remuxer
func NewPassThroughRemuxer() *PassThroughRemuxer {
	return &PassThroughRemuxer{
		logger: logging.WithFields(logging.Fields{
			"component": "passthrough_remuxer",
		}),
	}
}

// Destroy releases all state
func (r *PassThroughRemuxer) Destroy() {
	r.initData = nil
	r.initSegmentData = nil
	r.hasInitPTS = false
	r.hasLastEndDTS = false
}

// ResetTimeStamp re-anchors the stream at the given default initPTS
func (r *PassThroughRemuxer) ResetTimeStamp(defaultInitPTS *float64) {
	if defaultInitPTS != nil {
		r.initPTS = *defaultInitPTS
		r.hasInitPTS = true
	} else {
		r.hasInitPTS = false
	}
}

// ResetNextTimestamp clears DTS continuity
func (r *PassThroughRemuxer) ResetNextTimestamp() {
	r.hasLastEndDTS = false
}

// ResetInitSegment installs an out-of-band init segment and playlist codecs
func (r *PassThroughRemuxer) ResetInitSegment(initSegment []byte, audioCodec, videoCodec string) {
	r.initSegmentData = initSegment
	r.audioCodec = audioCodec
	r.videoCodec = videoCodec
	r.initData = nil
	r.emitInitSegment = true
}

// Remux processes one fragment payload positioned at timeOffset seconds
func (r *PassThroughRemuxer) Remux(data []byte, timeOffset float64) (*Result, error) {
	result := &Result{}

	if !r.hasLastEndDTS {
		r.lastEndDTS = timeOffset
		r.hasLastEndDTS = true
	}

	if !r.initData.HasTracks() {
		r.generateInitData(data)
	}
	if !r.initData.HasTracks() {
		r.logger.Warn("no init segment data, dropping fragment")
		return result, nil
	}

	if r.emitInitSegment {
		result.InitSegment = r.buildInitSegmentData()
		r.emitInitSegment = false
	}

	if !r.hasInitPTS {
		startDTS, err := ComputeStartDTS(r.initData, data)
		if err == nil {
			r.initPTS = startDTS - timeOffset
			r.hasInitPTS = true
			if result.InitSegment != nil {
				result.InitSegment.InitPTS = r.initPTS
				result.InitSegment.HasInitPTS = true
			}
		}
	}

	duration := ComputeDuration(data, r.initData)
	startDTS := r.lastEndDTS
	endDTS := startDTS + duration
	OffsetStartDTS(r.initData, data, -r.initPTS)
	r.lastEndDTS = endDTS

	track := &RemuxedTrack{
		Data:     data,
		StartDTS: startDTS,
		EndDTS:   endDTS,
		HasAudio: r.initData.Audio != nil,
		HasVideo: r.initData.Video != nil,
	}
	switch {
	case track.HasAudio && track.HasVideo:
		track.Type = TrackAudioVideo
		track.Container = "video/mp4"
	case track.HasVideo:
		track.Type = TrackVideo
		track.Container = "video/mp4"
	default:
		track.Type = TrackAudio
		track.Container = "audio/mp4"
	}
	result.Track = track

	return result, nil
}

// generateInitData parses init data from the fragment payload itself; fMP4
// segments may be self-initialising.
func (r *PassThroughRemuxer) generateInitData(data []byte) {
	if r.initSegmentData != nil {
		if init := ParseInitSegment(r.initSegmentData); init.HasTracks() {
			r.initData = init
			return
		}
	}
	if init := ParseInitSegment(data); init.HasTracks() {
		r.initData = init
		if r.initSegmentData == nil {
			r.initSegmentData = data
			r.emitInitSegment = true
		}
	}
}

func (r *PassThroughRemuxer) buildInitSegmentData() *InitSegmentData {
	tracks := make(map[string]InitSegmentTrack)

	audioCodec := r.audioCodec
	if audioCodec == "" {
		audioCodec = DefaultAudioCodec
	}
	videoCodec := r.videoCodec
	if videoCodec == "" {
		videoCodec = DefaultVideoCodec
	}

	switch {
	case r.initData.Audio != nil && r.initData.Video != nil:
		tracks["audiovideo"] = InitSegmentTrack{
			Container:   "video/mp4",
			Codec:       audioCodec + "," + videoCodec,
			InitSegment: r.initSegmentData,
			ID:          r.initData.Video.ID,
		}
	case r.initData.Video != nil:
		tracks["video"] = InitSegmentTrack{
			Container:   "video/mp4",
			Codec:       videoCodec,
			InitSegment: r.initSegmentData,
			ID:          r.initData.Video.ID,
		}
	case r.initData.Audio != nil:
		tracks["audio"] = InitSegmentTrack{
			Container:   "audio/mp4",
			Codec:       audioCodec,
			InitSegment: r.initSegmentData,
			ID:          r.initData.Audio.ID,
		}
	}

	return &InitSegmentData{Tracks: tracks}
}
