package youtube

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/kkdai/youtube/v2"

	"github.com/osa030/voicebox/internal/domain/track"
)

// VideoSource looks up metadata of YouTube video links.
type VideoSource struct {
	client *youtube.Client
}

// NewVideoSource creates a video source using the given proxy (optional).
func NewVideoSource(proxyURL string) (*VideoSource, error) {
	httpClient, err := newHTTPClient(proxyURL)
	if err != nil {
		return nil, err
	}
	return &VideoSource{client: &youtube.Client{HTTPClient: httpClient}}, nil
}

// Lookup returns the track for a video link.
func (s *VideoSource) Lookup(ctx context.Context, query string) (track.Track, error) {
	id, ok := ExtractVideoID(query)
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNoResults, "not a video link: %s", query)
	}

	video, err := s.client.GetVideoContext(ctx, id)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to get video %s", id)
	}

	ref := track.SourceRef{Provider: track.ProviderYouTube, URL: WatchURL(video.ID)}
	return track.New(video.Title, ref, video.Duration, track.Requester{}), nil
}

// bestAudioFormat picks the highest bitrate audio-only format, falling back to
// any format that carries audio.
func bestAudioFormat(formats youtube.FormatList) (*youtube.Format, bool) {
	withAudio := formats.WithAudioChannels()
	if len(withAudio) == 0 {
		return nil, false
	}

	var best *youtube.Format
	for i := range withAudio {
		f := &withAudio[i]
		if f.Width != 0 || f.Height != 0 {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	if best == nil {
		best = &withAudio[0]
	}
	return best, true
}
