// Package playlist holds the parsed HLS data model shared across the player
// engine: fragments, per-rendition playlist details, rendition state, and the
// adapter that turns raw playlist bytes into that model.
package playlist

import (
	"time"

	"github.com/RyanBlaney/hls-player-core/player/common"
)

// DecryptData carries the encryption parameters of a fragment
type DecryptData struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	IV     []byte `json:"iv,omitempty"`
}

// Fragment represents a single media segment. Treat as immutable once
// parsed; only Level is rewritten, by the level controller when the level
// set is reindexed.
type Fragment struct {
	// SN is the media sequence number
	SN int64 `json:"sn"`

	// CC is the discontinuity counter
	CC int `json:"cc"`

	// Level is the index of the owning rendition
	Level int `json:"level"`

	// Type is the playlist type this fragment belongs to
	Type common.PlaylistType `json:"type"`

	// Start is the presentation start time in seconds
	Start float64 `json:"start"`

	// Duration is the fragment duration in seconds
	Duration float64 `json:"duration"`

	// URL is the resolved absolute fragment URL
	URL string `json:"url"`

	// RelURL is the URI as it appeared in the playlist
	RelURL string `json:"rel_url,omitempty"`

	DecryptData     *DecryptData `json:"decryptdata,omitempty"`
	ProgramDateTime *time.Time   `json:"program_date_time,omitempty"`
}

// EndTime returns the presentation end time of the fragment
func (f *Fragment) EndTime() float64 {
	return f.Start + f.Duration
}
