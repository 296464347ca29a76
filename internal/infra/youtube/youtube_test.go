package youtube

import (
	"net/http"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID string
		wantOK bool
	}{
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"watch url with params", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", true},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"music", "https://music.youtube.com/watch?v=dQw4w9WgXcQ&feature=share", "dQw4w9WgXcQ", true},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"mobile", "http://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"surrounding spaces", "  https://youtu.be/dQw4w9WgXcQ  ", "dQw4w9WgXcQ", true},
		{"other host", "https://vimeo.com/watch?v=dQw4w9WgXcQ", "", false},
		{"lookalike host", "https://notyoutube.com/watch?v=dQw4w9WgXcQ", "", false},
		{"no scheme", "youtube.com/watch?v=dQw4w9WgXcQ", "", false},
		{"free text", "never gonna give you up", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ExtractVideoID(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantOK, IsVideoURL(tt.input))
		})
	}
}

func TestWatchURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", WatchURL("dQw4w9WgXcQ"))

	id, ok := ExtractVideoID(WatchURL("dQw4w9WgXcQ"))
	require.True(t, ok)
	assert.Equal(t, "dQw4w9WgXcQ", id)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
	}{
		{"3:20", 3*time.Minute + 20*time.Second},
		{"0:07", 7 * time.Second},
		{"1:05:20", time.Hour + 5*time.Minute + 20*time.Second},
		{"", 0},
		{"LIVE", 0},
		{"42", 0},
		{"1:2:3:4", 0},
		{"a:10", 0},
		{"-1:10", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseClock(tt.input))
		})
	}
}

func TestFirstHit(t *testing.T) {
	hit, ok := firstHit([]searchHit{
		{Title: "channel result"},
		{VideoID: "abcdefghijk", Title: "Song", Duration: "3:00"},
		{VideoID: "zzzzzzzzzzz", Title: "Other"},
	})
	require.True(t, ok)
	assert.Equal(t, "abcdefghijk", hit.VideoID)
	assert.Equal(t, "Song", hit.Title)

	_, ok = firstHit(nil)
	assert.False(t, ok)

	_, ok = firstHit([]searchHit{{Title: "playlist"}})
	assert.False(t, ok)
}

func TestBestAudioFormat(t *testing.T) {
	t.Run("prefers highest bitrate audio only", func(t *testing.T) {
		formats := youtube.FormatList{
			{ItagNo: 18, Width: 640, Height: 360, Bitrate: 500000, AudioChannels: 2},
			{ItagNo: 140, Bitrate: 128000, AudioChannels: 2},
			{ItagNo: 251, Bitrate: 160000, AudioChannels: 2},
			{ItagNo: 137, Width: 1920, Height: 1080, Bitrate: 4000000},
		}

		f, ok := bestAudioFormat(formats)
		require.True(t, ok)
		assert.Equal(t, 251, f.ItagNo)
	})

	t.Run("falls back to muxed format", func(t *testing.T) {
		formats := youtube.FormatList{
			{ItagNo: 137, Width: 1920, Height: 1080, Bitrate: 4000000},
			{ItagNo: 18, Width: 640, Height: 360, Bitrate: 500000, AudioChannels: 2},
		}

		f, ok := bestAudioFormat(formats)
		require.True(t, ok)
		assert.Equal(t, 18, f.ItagNo)
	})

	t.Run("no audio", func(t *testing.T) {
		_, ok := bestAudioFormat(youtube.FormatList{{ItagNo: 137, Width: 1920, Height: 1080}})
		assert.False(t, ok)
	})
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "https://a.example/1", firstLine("https://a.example/1\nhttps://a.example/2\n"))
	assert.Equal(t, "https://a.example/1", firstLine("\n  https://a.example/1  \n"))
	assert.Equal(t, "", firstLine(""))
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("no proxy", func(t *testing.T) {
		c, err := newHTTPClient("")
		require.NoError(t, err)
		assert.Nil(t, c.Transport)
		assert.Equal(t, httpTimeout, c.Timeout)
	})

	t.Run("http proxy", func(t *testing.T) {
		c, err := newHTTPClient("http://proxy.example:3128")
		require.NoError(t, err)
		tr, ok := c.Transport.(*http.Transport)
		require.True(t, ok)

		req, err := http.NewRequest(http.MethodGet, "https://www.youtube.com/", nil)
		require.NoError(t, err)
		u, err := tr.Proxy(req)
		require.NoError(t, err)
		assert.Equal(t, "proxy.example:3128", u.Host)
	})

	t.Run("socks5 proxy", func(t *testing.T) {
		c, err := newHTTPClient("socks5://127.0.0.1:1080")
		require.NoError(t, err)
		tr, ok := c.Transport.(*http.Transport)
		require.True(t, ok)
		assert.NotNil(t, tr.DialContext)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := newHTTPClient("ftp://proxy.example")
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := newHTTPClient("http://[::1")
		assert.Error(t, err)
	})
}
