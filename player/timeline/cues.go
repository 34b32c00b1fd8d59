// Package timeline synchronises decoded caption and subtitle data against
// the main track's timeline: it gates subtitle parsing until the initial PTS
// of the owning discontinuity is known, chains VTT timelines across
// discontinuities, and de-duplicates overlapping cue ranges per track.
package timeline

import "math"

// Cue is one rendered caption interval
type Cue struct {
	ID    string  `json:"id,omitempty"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// CueFactory constructs cues, allowing embedders to substitute their own cue
// representation hooks. The default factory returns a plain Cue.
type CueFactory func(start, end float64, text string) *Cue

// DefaultCueFactory builds plain cues
func DefaultCueFactory(start, end float64, text string) *Cue {
	return &Cue{Start: start, End: end, Text: text}
}

// cueRange is an accepted [start, end] interval on a track
type cueRange struct {
	start float64
	end   float64
}

// Track accumulates the accepted cues of one caption/subtitle track along
// with the ranges used for overlap de-duplication.
type Track struct {
	Label    string `json:"label"`
	Kind     string `json:"kind"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default"`

	cues   []*Cue
	ranges []cueRange
}

// Cues returns the accepted cues in insertion order
func (t *Track) Cues() []*Cue {
	return t.cues
}

// AddCue records a cue unless any accepted range overlaps it by at least
// half of the new cue's length. Every range is checked before the decision;
// an accepted cue extends the most-overlapped range so subsequent duplicates
// keep being caught.
func (t *Track) AddCue(cue *Cue) bool {
	newLen := cue.End - cue.Start
	merge := -1
	maxOverlap := 0.0
	for i := range t.ranges {
		r := &t.ranges[i]
		overlap := math.Min(cue.End, r.end) - math.Max(cue.Start, r.start)
		if overlap <= 0 {
			continue
		}
		if newLen <= 0 || overlap/newLen >= 0.5 {
			return false
		}
		if overlap > maxOverlap {
			maxOverlap = overlap
			merge = i
		}
	}

	if merge >= 0 {
		r := &t.ranges[merge]
		r.start = math.Min(r.start, cue.Start)
		r.end = math.Max(r.end, cue.End)
	} else {
		t.ranges = append(t.ranges, cueRange{start: cue.Start, end: cue.End})
	}
	t.cues = append(t.cues, cue)
	return true
}

// Clear drops all cues and accepted ranges
func (t *Track) Clear() {
	t.cues = nil
	t.ranges = nil
}
