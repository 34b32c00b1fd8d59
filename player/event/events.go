package event

import (
	"github.com/RyanBlaney/hls-player-core/player/common"
	"github.com/RyanBlaney/hls-player-core/player/playlist"
)

// Engine events. Names follow the wire-level event vocabulary so logs can be
// correlated with other player implementations.
const (
	MediaAttaching Event = "hlsMediaAttaching"
	MediaDetaching Event = "hlsMediaDetaching"

	ManifestLoading Event = "hlsManifestLoading"
	ManifestLoaded  Event = "hlsManifestLoaded"
	ManifestParsed  Event = "hlsManifestParsed"

	LevelLoading   Event = "hlsLevelLoading"
	LevelLoaded    Event = "hlsLevelLoaded"
	LevelSwitching Event = "hlsLevelSwitching"
	LevelsUpdated  Event = "hlsLevelsUpdated"

	FragLoaded             Event = "hlsFragLoaded"
	FragDecrypted          Event = "hlsFragDecrypted"
	FragParsingUserdata    Event = "hlsFragParsingUserdata"
	FragParsingInitSegment Event = "hlsFragParsingInitSegment"
	InitPTSFound           Event = "hlsInitPtsFound"

	SubtitleFragProcessed    Event = "hlsSubtitleFragProcessed"
	CuesParsed               Event = "hlsCuesParsed"
	NonNativeTextTracksFound Event = "hlsNonNativeTextTracksFound"
	SubtitleTracksCleared    Event = "hlsSubtitleTracksCleared"

	AudioTrackSwitched Event = "hlsAudioTrackSwitched"

	Error Event = "hlsError"
)

// LoadStats carries the timing/size statistics of one load
type LoadStats struct {
	TRequest int64 `json:"trequest"`
	TFirst   int64 `json:"tfirst"`
	TLoad    int64 `json:"tload"`
	Loaded   int64 `json:"loaded"`
	Total    int64 `json:"total"`
}

// MediaAttachingData accompanies MediaAttaching
type MediaAttachingData struct {
	Media common.Media
}

// ManifestLoadedData accompanies ManifestLoaded
type ManifestLoadedData struct {
	Levels      []playlist.ParsedLevel
	AudioTracks []playlist.MediaTrack
	Subtitles   []playlist.MediaTrack
	Captions    []playlist.MediaTrack
	URL         string
	Stats       LoadStats
}

// ManifestParsedData accompanies ManifestParsed
type ManifestParsedData struct {
	Levels      []*playlist.Level
	AudioTracks []playlist.MediaTrack
	FirstLevel  int
	Stats       LoadStats
	Audio       bool
	Video       bool
	AltAudio    bool
}

// LevelLoadingData accompanies LevelLoading
type LevelLoadingData struct {
	URL   string
	Level int
	ID    int
}

// LevelLoadedData accompanies LevelLoaded
type LevelLoadedData struct {
	Level   int
	ID      int
	Details *playlist.LevelDetails
	Stats   LoadStats
}

// LevelSwitchingData accompanies LevelSwitching
type LevelSwitchingData struct {
	Level   int
	Bitrate int
	Name    string
}

// LevelsUpdatedData accompanies LevelsUpdated
type LevelsUpdatedData struct {
	Levels []*playlist.Level
}

// FragLoadedData accompanies FragLoaded
type FragLoadedData struct {
	Frag    *playlist.Fragment
	Payload []byte
	Stats   LoadStats
}

// FragDecryptedData accompanies FragDecrypted
type FragDecryptedData struct {
	Frag    *playlist.Fragment
	Payload []byte
}

// UserdataSample is one SEI user-data sample extracted by the demuxer
type UserdataSample struct {
	PTS   float64
	Bytes []byte
}

// FragParsingUserdataData accompanies FragParsingUserdata
type FragParsingUserdataData struct {
	ID      string
	Frag    *playlist.Fragment
	Samples []UserdataSample
}

// FragParsingInitSegmentData accompanies FragParsingInitSegment
type FragParsingInitSegmentData struct {
	ID   string
	Frag *playlist.Fragment
}

// InitPTSFoundData accompanies InitPTSFound. InitPTS is in 90 kHz ticks.
type InitPTSFoundData struct {
	ID      string
	Frag    *playlist.Fragment
	InitPTS int64
}

// SubtitleFragProcessedData accompanies SubtitleFragProcessed
type SubtitleFragProcessedData struct {
	Success bool
	Frag    *playlist.Fragment
	Error   error
}

// CuesParsedData accompanies CuesParsed when cues are not rendered natively
type CuesParsedData struct {
	Type  string
	Cues  []any
	Track string
}

// NonNativeTextTrack describes a caption track surfaced to the embedder
type NonNativeTextTrack struct {
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Default  bool   `json:"default"`
	Language string `json:"language,omitempty"`
}

// NonNativeTextTracksFoundData accompanies NonNativeTextTracksFound
type NonNativeTextTracksFoundData struct {
	Tracks []NonNativeTextTrack
}

// AudioTrackSwitchedData accompanies AudioTrackSwitched
type AudioTrackSwitchedData struct {
	ID int
}

// ErrorData accompanies Error. Recovery logic may mutate Fatal and
// LevelRetry before re-observation by higher layers.
type ErrorData struct {
	Type       common.ErrorType
	Details    common.ErrorDetails
	Fatal      bool
	Err        *common.PlayerError
	Level      int
	HasLevel   bool
	Frag       *playlist.Fragment
	Context    any
	Reason     string
	LevelRetry bool
}
