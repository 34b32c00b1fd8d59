package remux

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// box assembles an ISO-BMFF box from its payload parts
func box(boxType string, payload ...[]byte) []byte {
	content := bytes.Join(payload, nil)
	b := make([]byte, 8+len(content))
	binary.BigEndian.PutUint32(b, uint32(8+len(content)))
	copy(b[4:8], boxType)
	copy(b[8:], content)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func buildTrak(trackID, timescale uint32, handler, codec string) []byte {
	tkhd := box("tkhd",
		u32(0),       // version + flags
		u32(0), u32(0), // creation, modification
		u32(trackID),
		u32(0), // reserved
	)
	mdhd := box("mdhd",
		u32(0),       // version + flags
		u32(0), u32(0), // creation, modification
		u32(timescale),
		u32(0), // duration
	)
	hdlr := box("hdlr",
		u32(0), // version + flags
		u32(0), // pre_defined
		[]byte(handler),
	)
	sampleEntry := box(codec, u32(0))
	stsd := box("stsd",
		u32(0), // version + flags
		u32(1), // entry count
		sampleEntry,
	)
	stbl := box("stbl", stsd)
	minf := box("minf", stbl)
	mdia := box("mdia", mdhd, hdlr, minf)
	return box("trak", tkhd, mdia)
}

func buildInitSegment(tracks ...[]byte) []byte {
	return box("moov", bytes.Join(tracks, nil))
}

// buildFragment builds a moof with one traf per entry: trackID, decode time
// and per-sample durations
type fragTrack struct {
	trackID    uint32
	decodeTime uint32
	durations  []uint32
}

func buildFragment(tracks ...fragTrack) []byte {
	var trafs []byte
	for _, track := range tracks {
		tfhd := box("tfhd",
			u32(0), // version + flags, no optional fields
			u32(track.trackID),
		)
		tfdt := box("tfdt",
			u32(0), // version 0
			u32(track.decodeTime),
		)
		trunPayload := [][]byte{
			u32(0x000100), // version 0, sample-duration-present
			u32(uint32(len(track.durations))),
		}
		for _, d := range track.durations {
			trunPayload = append(trunPayload, u32(d))
		}
		trun := box("trun", trunPayload...)
		trafs = append(trafs, box("traf", tfhd, tfdt, trun)...)
	}
	return box("moof", trafs)
}

func TestParseInitSegment(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(
		buildTrak(1, 90000, "vide", "avc1"),
		buildTrak(2, 44100, "soun", "mp4a"),
	))

	require.True(t, init.HasTracks())
	require.NotNil(t, init.Video)
	assert.Equal(t, uint32(1), init.Video.ID)
	assert.Equal(t, uint32(90000), init.Video.Timescale)
	assert.Equal(t, "avc1", init.Video.Codec)

	require.NotNil(t, init.Audio)
	assert.Equal(t, uint32(2), init.Audio.ID)
	assert.Equal(t, uint32(44100), init.Audio.Timescale)
	assert.Equal(t, "mp4a", init.Audio.Codec)
}

func TestParseInitSegmentNoMoov(t *testing.T) {
	init := ParseInitSegment(buildFragment(fragTrack{trackID: 1, decodeTime: 0, durations: []uint32{100}}))
	assert.False(t, init.HasTracks())
}

func TestComputeStartDTS(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(
		buildTrak(1, 90000, "vide", "avc1"),
		buildTrak(2, 44100, "soun", "mp4a"),
	))
	frag := buildFragment(
		fragTrack{trackID: 1, decodeTime: 180000, durations: []uint32{3000}}, // 2.0s
		fragTrack{trackID: 2, decodeTime: 44100, durations: []uint32{1024}},  // 1.0s
	)

	start, err := ComputeStartDTS(init, frag)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, start, 1e-9)
}

func TestComputeStartDTSNoTfdt(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(buildTrak(1, 90000, "vide", "avc1")))
	_, err := ComputeStartDTS(init, []byte{0, 0, 0, 8, 'f', 'r', 'e', 'e'})
	assert.Error(t, err)
}

func TestComputeDurationPrefersVideo(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(
		buildTrak(1, 90000, "vide", "avc1"),
		buildTrak(2, 44100, "soun", "mp4a"),
	))
	frag := buildFragment(
		fragTrack{trackID: 1, decodeTime: 0, durations: []uint32{90000, 90000}}, // 2.0s video
		fragTrack{trackID: 2, decodeTime: 0, durations: []uint32{44100}},        // 1.0s audio
	)

	assert.InDelta(t, 2.0, ComputeDuration(frag, init), 1e-9)
}

func TestComputeDurationAudioFallback(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(buildTrak(2, 44100, "soun", "mp4a")))
	frag := buildFragment(fragTrack{trackID: 2, decodeTime: 0, durations: []uint32{22050, 22050}})

	assert.InDelta(t, 1.0, ComputeDuration(frag, init), 1e-9)
}

func TestTruncatedTfhdIsSkipped(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(buildTrak(1, 90000, "vide", "avc1")))

	// A tfhd with an empty payload (box size 8) must be skipped, not panic
	traf := box("traf",
		box("tfhd"),
		box("tfdt", u32(0), u32(90000)),
	)
	frag := box("moof", traf)

	assert.NotPanics(t, func() {
		_, _ = ComputeStartDTS(init, frag)
		_ = ComputeDuration(frag, init)
		OffsetStartDTS(init, frag, 1.0)
	})
	assert.InDelta(t, 0.0, ComputeDuration(frag, init), 1e-9)
}

func TestOffsetStartDTS(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(buildTrak(1, 90000, "vide", "avc1")))
	frag := buildFragment(fragTrack{trackID: 1, decodeTime: 180000, durations: []uint32{3000}})

	OffsetStartDTS(init, frag, -1.0)

	start, err := ComputeStartDTS(init, frag)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, start, 1e-9)
}

func TestOffsetStartDTSClampsAtZero(t *testing.T) {
	init := ParseInitSegment(buildInitSegment(buildTrak(1, 90000, "vide", "avc1")))
	frag := buildFragment(fragTrack{trackID: 1, decodeTime: 90000, durations: []uint32{3000}})

	OffsetStartDTS(init, frag, -5.0)

	start, err := ComputeStartDTS(init, frag)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, start, 1e-9)
}
