package remux

import (
	"encoding/binary"
	"errors"
)

// InitTrack is one track described by a parsed moov box
type InitTrack struct {
	ID        uint32
	Timescale uint32
	Type      string // "audio" or "video"
	Codec     string
}

// InitData is the parsed init segment: at most one audio and one video track
type InitData struct {
	Audio *InitTrack
	Video *InitTrack
	byID  map[uint32]*InitTrack
}

// HasTracks reports whether any track was found in the init segment
func (d *InitData) HasTracks() bool {
	return d != nil && (d.Audio != nil || d.Video != nil)
}

func (d *InitData) track(id uint32) *InitTrack {
	if d == nil {
		return nil
	}
	return d.byID[id]
}

// findBoxes returns the payloads of every box of the given type at the top
// level of data
func findBoxes(data []byte, boxType string) [][]byte {
	var boxes [][]byte
	for offset := 0; offset+8 <= len(data); {
		size := int(binary.BigEndian.Uint32(data[offset:]))
		if size < 8 || offset+size > len(data) {
			break
		}
		if string(data[offset+4:offset+8]) == boxType {
			boxes = append(boxes, data[offset+8:offset+size])
		}
		offset += size
	}
	return boxes
}

// findBoxPath walks a nested box path ("moov"/"trak"/...) and returns all
// matching payloads
func findBoxPath(data []byte, path ...string) [][]byte {
	current := [][]byte{data}
	for _, boxType := range path {
		var next [][]byte
		for _, payload := range current {
			next = append(next, findBoxes(payload, boxType)...)
		}
		current = next
	}
	return current
}

// ParseInitSegment extracts track ids, timescales, handler types and sample
// entry codecs from a moov box. Payloads without a moov yield empty InitData.
func ParseInitSegment(data []byte) *InitData {
	init := &InitData{byID: make(map[uint32]*InitTrack)}

	for _, trak := range findBoxPath(data, "moov", "trak") {
		tkhds := findBoxes(trak, "tkhd")
		mdias := findBoxes(trak, "mdia")
		if len(tkhds) == 0 || len(mdias) == 0 {
			continue
		}
		trackID := parseTkhdTrackID(tkhds[0])
		mdia := mdias[0]

		mdhds := findBoxes(mdia, "mdhd")
		hdlrs := findBoxes(mdia, "hdlr")
		if len(mdhds) == 0 || len(hdlrs) == 0 {
			continue
		}
		timescale := parseMdhdTimescale(mdhds[0])
		if timescale == 0 {
			continue
		}
		handler := parseHdlrType(hdlrs[0])

		track := &InitTrack{
			ID:        trackID,
			Timescale: timescale,
			Codec:     parseSampleEntryCodec(mdia),
		}
		switch handler {
		case "soun":
			track.Type = "audio"
			init.Audio = track
		case "vide":
			track.Type = "video"
			init.Video = track
		default:
			continue
		}
		init.byID[trackID] = track
	}

	return init
}

func parseTkhdTrackID(tkhd []byte) uint32 {
	if len(tkhd) < 4 {
		return 0
	}
	version := tkhd[0]
	// version + flags, creation + modification times, then track id
	offset := 4 + 8
	if version == 1 {
		offset = 4 + 16
	}
	if len(tkhd) < offset+4 {
		return 0
	}
	return binary.BigEndian.Uint32(tkhd[offset:])
}

func parseMdhdTimescale(mdhd []byte) uint32 {
	if len(mdhd) < 4 {
		return 0
	}
	version := mdhd[0]
	offset := 4 + 8
	if version == 1 {
		offset = 4 + 16
	}
	if len(mdhd) < offset+4 {
		return 0
	}
	return binary.BigEndian.Uint32(mdhd[offset:])
}

func parseHdlrType(hdlr []byte) string {
	// version + flags, pre_defined, then handler_type
	if len(hdlr) < 12 {
		return ""
	}
	return string(hdlr[8:12])
}

func parseSampleEntryCodec(mdia []byte) string {
	for _, stsd := range findBoxPath(mdia, "minf", "stbl", "stsd") {
		// version + flags, entry count, then the first sample entry header
		if len(stsd) < 16 {
			continue
		}
		return string(stsd[12:16])
	}
	return ""
}

// tfdtRef locates a traf's decode-time field so it can be read and rewritten
type tfdtRef struct {
	track   *InitTrack
	payload []byte // tfdt payload, aliasing the fragment data
	version byte
}

func (r tfdtRef) baseMediaDecodeTime() uint64 {
	if r.version == 1 {
		return binary.BigEndian.Uint64(r.payload[4:])
	}
	return uint64(binary.BigEndian.Uint32(r.payload[4:]))
}

func (r tfdtRef) setBaseMediaDecodeTime(v uint64) {
	if r.version == 1 {
		binary.BigEndian.PutUint64(r.payload[4:], v)
	} else {
		binary.BigEndian.PutUint32(r.payload[4:], uint32(v))
	}
}

func collectTfdts(data []byte, init *InitData) []tfdtRef {
	var refs []tfdtRef
	for _, traf := range findBoxPath(data, "moof", "traf") {
		tfhds := findBoxes(traf, "tfhd")
		tfdts := findBoxes(traf, "tfdt")
		if len(tfhds) == 0 || len(tfdts) == 0 || len(tfhds[0]) < 8 {
			continue
		}
		trackID := binary.BigEndian.Uint32(tfhds[0][4:])
		track := init.track(trackID)
		if track == nil {
			continue
		}
		tfdt := tfdts[0]
		if len(tfdt) < 8 {
			continue
		}
		version := tfdt[0]
		if version == 1 && len(tfdt) < 12 {
			continue
		}
		refs = append(refs, tfdtRef{track: track, payload: tfdt, version: version})
	}
	return refs
}

// ComputeStartDTS returns the earliest decode timestamp of the fragment, in
// seconds, across all tracks matched against the init segment
func ComputeStartDTS(init *InitData, data []byte) (float64, error) {
	refs := collectTfdts(data, init)
	if len(refs) == 0 {
		return 0, errors.New("no tfdt found in fragment")
	}
	start := -1.0
	for _, ref := range refs {
		dts := float64(ref.baseMediaDecodeTime()) / float64(ref.track.Timescale)
		if start < 0 || dts < start {
			start = dts
		}
	}
	return start, nil
}

// OffsetStartDTS shifts every traf's base media decode time by the given
// offset in seconds, rewriting the fragment data in place
func OffsetStartDTS(init *InitData, data []byte, offsetSeconds float64) {
	for _, ref := range collectTfdts(data, init) {
		shifted := float64(ref.baseMediaDecodeTime()) + offsetSeconds*float64(ref.track.Timescale)
		if shifted < 0 {
			shifted = 0
		}
		ref.setBaseMediaDecodeTime(uint64(shifted))
	}
}

// ComputeDuration returns the fragment duration in seconds, preferring the
// video track. Durations come from trun sample entries, falling back to the
// tfhd default sample duration.
func ComputeDuration(data []byte, init *InitData) float64 {
	var audioDuration, videoDuration float64

	for _, traf := range findBoxPath(data, "moof", "traf") {
		tfhds := findBoxes(traf, "tfhd")
		if len(tfhds) == 0 || len(tfhds[0]) < 8 {
			continue
		}
		tfhd := tfhds[0]
		trackID := binary.BigEndian.Uint32(tfhd[4:])
		track := init.track(trackID)
		if track == nil {
			continue
		}

		ticks := uint64(0)
		for _, trun := range findBoxes(traf, "trun") {
			ticks += trunDurationTicks(trun, tfhdDefaultSampleDuration(tfhd))
		}
		seconds := float64(ticks) / float64(track.Timescale)
		if track.Type == "video" {
			videoDuration += seconds
		} else {
			audioDuration += seconds
		}
	}

	if videoDuration > 0 {
		return videoDuration
	}
	return audioDuration
}

func tfhdDefaultSampleDuration(tfhd []byte) uint32 {
	flags := binary.BigEndian.Uint32(tfhd[:4]) & 0xFFFFFF
	offset := 8
	if flags&0x000001 != 0 { // base-data-offset
		offset += 8
	}
	if flags&0x000002 != 0 { // sample-description-index
		offset += 4
	}
	if flags&0x000008 != 0 { // default-sample-duration
		if len(tfhd) >= offset+4 {
			return binary.BigEndian.Uint32(tfhd[offset:])
		}
	}
	return 0
}

func trunDurationTicks(trun []byte, defaultSampleDuration uint32) uint64 {
	if len(trun) < 8 {
		return 0
	}
	flags := binary.BigEndian.Uint32(trun[:4]) & 0xFFFFFF
	sampleCount := binary.BigEndian.Uint32(trun[4:8])
	offset := 8
	if flags&0x000001 != 0 { // data-offset
		offset += 4
	}
	if flags&0x000004 != 0 { // first-sample-flags
		offset += 4
	}

	if flags&0x000100 == 0 { // sample-duration not present per sample
		return uint64(sampleCount) * uint64(defaultSampleDuration)
	}

	sampleSize := 4
	if flags&0x000200 != 0 {
		sampleSize += 4
	}
	if flags&0x000400 != 0 {
		sampleSize += 4
	}
	if flags&0x000800 != 0 {
		sampleSize += 4
	}

	ticks := uint64(0)
	for i := uint32(0); i < sampleCount; i++ {
		entry := offset + int(i)*sampleSize
		if entry+4 > len(trun) {
			break
		}
		ticks += uint64(binary.BigEndian.Uint32(trun[entry:]))
	}
	return ticks
}
