package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func liveDetails(startSN, endSN int64, url string) *LevelDetails {
	details := &LevelDetails{
		Live:           true,
		StartSN:        startSN,
		EndSN:          endSN,
		TargetDuration: 4,
		URL:            url,
	}
	start := 0.0
	for sn := startSN; sn <= endSN; sn++ {
		details.Fragments = append(details.Fragments, &Fragment{
			SN:       sn,
			Start:    start,
			Duration: 4,
		})
		start += 4
	}
	return details
}

func TestMergeDetailsFirstLoad(t *testing.T) {
	details := liveDetails(0, 2, "https://example.com/a.m3u8")
	MergeDetails(nil, details)

	assert.True(t, details.Updated)
	assert.True(t, details.Advanced)
}

func TestMergeDetailsAdvanced(t *testing.T) {
	old := liveDetails(0, 2, "https://example.com/a.m3u8")
	// Shift the old window so merged start times are observable
	for _, frag := range old.Fragments {
		frag.Start += 100
	}
	updated := liveDetails(1, 3, "https://example.com/a.m3u8")
	MergeDetails(old, updated)

	assert.True(t, updated.Updated)
	assert.True(t, updated.Advanced)
	assert.Equal(t, 0, updated.Misses)

	// Overlapping fragments keep their established start times and the new
	// fragment chains off the last overlapped one
	assert.InDelta(t, 104.0, updated.Fragments[0].Start, 1e-9) // sn 1
	assert.InDelta(t, 108.0, updated.Fragments[1].Start, 1e-9) // sn 2
	assert.InDelta(t, 112.0, updated.Fragments[2].Start, 1e-9) // sn 3
}

func TestMergeDetailsNoChange(t *testing.T) {
	old := liveDetails(0, 2, "https://example.com/a.m3u8")
	same := liveDetails(0, 2, "https://example.com/a.m3u8")
	MergeDetails(old, same)

	assert.False(t, same.Updated)
	assert.False(t, same.Advanced)
	assert.Equal(t, 1, same.Misses)
}

func TestMergeDetailsURLChange(t *testing.T) {
	old := liveDetails(0, 2, "https://a.example.com/a.m3u8")
	moved := liveDetails(0, 2, "https://b.example.com/a.m3u8")
	MergeDetails(old, moved)

	assert.True(t, moved.Updated)
	assert.False(t, moved.Advanced)
}

func TestMergeDetailsURLChangeIgnoredWithBlockingReload(t *testing.T) {
	old := liveDetails(0, 2, "https://example.com/a.m3u8")
	reloaded := liveDetails(0, 2, "https://example.com/a.m3u8?_HLS_msn=3")
	reloaded.ServerControl = &ServerControl{CanBlockReload: true}
	MergeDetails(old, reloaded)

	assert.False(t, reloaded.Updated)
}

func TestReloadInterval(t *testing.T) {
	details := liveDetails(0, 2, "https://example.com/a.m3u8")

	details.Updated = true
	assert.Equal(t, 4*time.Second, details.ReloadInterval(0))

	// A stale reload halves the interval
	details.Updated = false
	assert.Equal(t, 2*time.Second, details.ReloadInterval(0))

	// Load time is subtracted, floored at zero
	details.Updated = true
	assert.Equal(t, 3*time.Second, details.ReloadInterval(time.Second))
	assert.Equal(t, time.Duration(0), details.ReloadInterval(10*time.Second))
}

func TestFragmentBySN(t *testing.T) {
	details := liveDetails(10, 12, "https://example.com/a.m3u8")

	assert.Nil(t, details.FragmentBySN(9))
	assert.Nil(t, details.FragmentBySN(13))
	assert.Equal(t, int64(11), details.FragmentBySN(11).SN)
}
