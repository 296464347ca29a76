package youtube

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
)

var videoHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// IsVideoURL reports whether s is a link to a single YouTube video.
func IsVideoURL(s string) bool {
	_, ok := ExtractVideoID(s)
	return ok
}

// ExtractVideoID returns the video ID of a YouTube video link.
func ExtractVideoID(s string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !videoHosts[strings.ToLower(u.Hostname())] {
		return "", false
	}
	id, err := youtube.ExtractVideoID(u.String())
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// WatchURL returns the canonical watch URL of a video.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// parseClock parses durations like "3:20" or "1:05:20". Empty or malformed
// input (live streams) yields zero.
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second
}
