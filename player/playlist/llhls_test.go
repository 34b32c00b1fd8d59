package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBlockingReloadURL(t *testing.T) {
	t.Run("msn only", func(t *testing.T) {
		url := BuildBlockingReloadURL("https://example.com/live/index.m3u8", 43, -1, false, 0)
		assert.Equal(t, "https://example.com/live/index.m3u8?_HLS_msn=43", url)
	})

	t.Run("previous query is stripped", func(t *testing.T) {
		url := BuildBlockingReloadURL("https://example.com/live/index.m3u8?_HLS_msn=42&_HLS_skip=YES", 43, -1, false, 0)
		assert.Equal(t, "https://example.com/live/index.m3u8?_HLS_msn=43", url)
	})

	t.Run("part requires msn", func(t *testing.T) {
		url := BuildBlockingReloadURL("https://example.com/live/index.m3u8", 43, 2, false, 0)
		assert.Equal(t, "https://example.com/live/index.m3u8?_HLS_msn=43&_HLS_part=2", url)
	})

	t.Run("push and skip", func(t *testing.T) {
		url := BuildBlockingReloadURL("https://example.com/live/index.m3u8", 7, 0, true, 24)
		assert.Equal(t, "https://example.com/live/index.m3u8?_HLS_msn=7&_HLS_part=0&_HLS_push=1&_HLS_skip=YES", url)
	})
}

func TestParseDeliveryDirectives(t *testing.T) {
	t.Run("full set", func(t *testing.T) {
		directives := ParseDeliveryDirectives("https://example.com/live/index.m3u8?_HLS_msn=42&_HLS_part=3&_HLS_push=1")
		require.NotNil(t, directives)
		assert.Equal(t, int64(42), directives.MSN)
		assert.Equal(t, int64(3), directives.Part)
		assert.True(t, directives.Push)
	})

	t.Run("msn alone", func(t *testing.T) {
		directives := ParseDeliveryDirectives("https://example.com/live/index.m3u8?_HLS_msn=42")
		require.NotNil(t, directives)
		assert.Equal(t, int64(42), directives.MSN)
		assert.Equal(t, int64(-1), directives.Part)
		assert.False(t, directives.Push)
	})

	t.Run("no directives", func(t *testing.T) {
		assert.Nil(t, ParseDeliveryDirectives("https://example.com/live/index.m3u8"))
	})

	t.Run("malformed msn", func(t *testing.T) {
		assert.Nil(t, ParseDeliveryDirectives("https://example.com/live/index.m3u8?_HLS_msn=abc"))
	})
}
