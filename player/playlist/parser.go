package playlist

import (
	"bytes"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/RyanBlaney/hls-player-core/player/common"
)

// ParseLevelPlaylist turns raw media-playlist bytes into LevelDetails. The
// heavy lifting is delegated to grafov/m3u8; the low-latency tags it does not
// surface (EXT-X-SERVER-CONTROL, EXT-X-PART-INF, EXT-X-PART) are scanned from
// the raw text alongside.
func ParseLevelPlaylist(data []byte, playlistURL string, levelIdx int, plType common.PlaylistType) (*LevelDetails, error) {
	parsed, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, common.NewPlayerError(common.NetworkError, common.ErrLevelLoadError, false,
			"failed to parse level playlist", err)
	}
	if listType != m3u8.MEDIA {
		return nil, common.NewPlayerError(common.NetworkError, common.ErrLevelLoadError, false,
			"expected a media playlist", nil)
	}
	media := parsed.(*m3u8.MediaPlaylist)

	details := &LevelDetails{
		Live:           !media.Closed,
		Version:        int(media.Version()),
		StartSN:        int64(media.SeqNo),
		TargetDuration: media.TargetDuration,
		EndPart:        -1,
		URL:            playlistURL,
		LoadedAt:       time.Now(),
	}
	switch media.MediaType {
	case m3u8.VOD:
		details.Kind = PlaylistKindVOD
	case m3u8.EVENT:
		details.Kind = PlaylistKindEvent
	}

	extra := scanExtraTags(data)
	details.ServerControl = extra.serverControl
	details.PartTarget = extra.partTarget
	details.EndPart = extra.endPart
	details.StartCC = extra.discontinuitySeq
	if directives := ParseDeliveryDirectives(playlistURL); directives != nil {
		details.Push = directives
	}

	cc := details.StartCC
	start := 0.0
	sn := details.StartSN
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Discontinuity {
			cc++
		}
		frag := &Fragment{
			SN:       sn,
			CC:       cc,
			Level:    levelIdx,
			Type:     plType,
			Start:    start,
			Duration: seg.Duration,
			RelURL:   seg.URI,
			URL:      resolveURL(playlistURL, seg.URI),
		}
		if seg.Key != nil && seg.Key.Method != "" && seg.Key.Method != "NONE" {
			frag.DecryptData = &DecryptData{
				Method: seg.Key.Method,
				URI:    resolveURL(playlistURL, seg.Key.URI),
				IV:     parseIV(seg.Key.IV),
			}
		}
		if !seg.ProgramDateTime.IsZero() {
			pdt := seg.ProgramDateTime
			frag.ProgramDateTime = &pdt
		}
		details.Fragments = append(details.Fragments, frag)
		start += seg.Duration
		sn++
	}

	if n := len(details.Fragments); n > 0 {
		details.EndSN = details.Fragments[n-1].SN
		details.EndCC = details.Fragments[n-1].CC
		details.TotalDuration = start
	} else {
		details.EndSN = details.StartSN
		details.EndCC = details.StartCC
	}

	if extra.mapURI != "" {
		details.InitSegment = &Fragment{
			SN:    -1,
			CC:    details.StartCC,
			Level: levelIdx,
			Type:  plType,
			URL:   resolveURL(playlistURL, extra.mapURI),
		}
	}

	if details.Live && details.ServerControl != nil && details.ServerControl.PartHoldBack > 0 {
		details.AvailabilityDelay = details.ServerControl.PartHoldBack
	} else if details.Live && details.ServerControl != nil && details.ServerControl.HoldBack > 0 {
		details.AvailabilityDelay = details.ServerControl.HoldBack
	} else if details.Live {
		details.AvailabilityDelay = 3 * details.TargetDuration
	}

	return details, nil
}

type extraTags struct {
	serverControl    *ServerControl
	partTarget       float64
	endPart          int64
	discontinuitySeq int
	mapURI           string
}

// scanExtraTags walks the raw playlist text for tags outside the grafov
// surface. EXT-X-PART occurrences after the last full segment determine the
// latest part index.
func scanExtraTags(data []byte) extraTags {
	extra := extraTags{endPart: -1}
	partsSinceSegment := int64(0)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "#EXT-X-SERVER-CONTROL:"):
			extra.serverControl = parseServerControl(line[len("#EXT-X-SERVER-CONTROL:"):])
		case strings.HasPrefix(line, "#EXT-X-PART-INF:"):
			attrs := parseAttrList(line[len("#EXT-X-PART-INF:"):])
			if v, err := strconv.ParseFloat(attrs["PART-TARGET"], 64); err == nil {
				extra.partTarget = v
			}
		case strings.HasPrefix(line, "#EXT-X-PART:"):
			partsSinceSegment++
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:")); err == nil {
				extra.discontinuitySeq = v
			}
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			attrs := parseAttrList(line[len("#EXT-X-MAP:"):])
			extra.mapURI = attrs["URI"]
		case line != "" && !strings.HasPrefix(line, "#"):
			// URI line closes a full segment; trailing parts belong to the
			// next, still incomplete one
			partsSinceSegment = 0
		}
	}

	if partsSinceSegment > 0 {
		extra.endPart = partsSinceSegment - 1
	}
	return extra
}

func parseServerControl(attrs string) *ServerControl {
	parsed := parseAttrList(attrs)
	control := &ServerControl{}
	control.CanBlockReload = parsed["CAN-BLOCK-RELOAD"] == "YES"
	if v, err := strconv.ParseFloat(parsed["CAN-SKIP-UNTIL"], 64); err == nil {
		control.CanSkipUntil = v
	}
	if v, err := strconv.ParseFloat(parsed["HOLD-BACK"], 64); err == nil {
		control.HoldBack = v
	}
	if v, err := strconv.ParseFloat(parsed["PART-HOLD-BACK"], 64); err == nil {
		control.PartHoldBack = v
	}
	return control
}

// parseAttrList splits an HLS attribute list into a key/value map, honoring
// quoted values with embedded commas
func parseAttrList(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[:eq])
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value = s[1:]
				s = ""
			} else {
				value = s[1 : 1+end]
				s = s[end+2:]
				s = strings.TrimPrefix(s, ",")
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				value = s
				s = ""
			} else {
				value = s[:end]
				s = s[end+1:]
			}
		}
		attrs[key] = value
	}
	return attrs
}

func parseIV(iv string) []byte {
	iv = strings.TrimPrefix(strings.TrimPrefix(iv, "0x"), "0X")
	if iv == "" {
		return nil
	}
	decoded, err := hex.DecodeString(iv)
	if err != nil {
		return nil
	}
	return decoded
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
