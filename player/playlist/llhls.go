package playlist

import (
	"net/url"
	"strconv"
	"strings"
)

// BuildBlockingReloadURL constructs a low-latency blocking playlist request
// URL. The base URL's own query component is stripped first; _HLS_msn is
// always present, _HLS_part only together with it. Parameter order follows
// the RFC 8216bis directive order so CDNs can treat the URL as a cache key.
func BuildBlockingReloadURL(base string, msn int64, part int64, push bool, skipUntil float64) string {
	stripped := base
	if idx := strings.IndexByte(stripped, '?'); idx >= 0 {
		stripped = stripped[:idx]
	}

	var query strings.Builder
	query.WriteString("_HLS_msn=")
	query.WriteString(strconv.FormatInt(msn, 10))
	if part >= 0 {
		query.WriteString("&_HLS_part=")
		query.WriteString(strconv.FormatInt(part, 10))
	}
	if push {
		query.WriteString("&_HLS_push=1")
	}
	if skipUntil > 0 {
		query.WriteString("&_HLS_skip=YES")
	}

	return stripped + "?" + query.String()
}

// ParseDeliveryDirectives extracts _HLS_msn/_HLS_part/_HLS_push from a
// playlist URL. Returns nil when the URL carries no _HLS_msn.
func ParseDeliveryDirectives(rawURL string) *DeliveryDirectives {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	values := parsed.Query()
	msnRaw := values.Get("_HLS_msn")
	if msnRaw == "" {
		return nil
	}
	msn, err := strconv.ParseInt(msnRaw, 10, 64)
	if err != nil {
		return nil
	}

	directives := &DeliveryDirectives{MSN: msn, Part: -1}
	if partRaw := values.Get("_HLS_part"); partRaw != "" {
		if part, err := strconv.ParseInt(partRaw, 10, 64); err == nil {
			directives.Part = part
		}
	}
	directives.Push = values.Get("_HLS_push") == "1"
	return directives
}
