package youtube

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// SearchSource resolves free-text queries to the first matching video.
type SearchSource struct {
	client *ytsearch.Client
}

// NewSearchSource creates a search source using the given proxy (optional).
func NewSearchSource(proxyURL string) (*SearchSource, error) {
	httpClient, err := newHTTPClient(proxyURL)
	if err != nil {
		return nil, err
	}
	return &SearchSource{client: ytsearch.NewClient(httpClient)}, nil
}

// searchHit is the subset of a search result the source uses.
type searchHit struct {
	VideoID  string
	Title    string
	Duration string
}

// Lookup returns the first video result for the query.
func (s *SearchSource) Lookup(ctx context.Context, query string) (track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return track.Track{}, errors.Wrap(ErrNoResults, "empty query")
	}

	res, err := s.client.Search(ctx, query)
	if err != nil {
		return track.Track{}, errors.Wrap(err, "search failed")
	}

	hits := make([]searchHit, 0, len(res.Results))
	for _, r := range res.Results {
		hits = append(hits, searchHit{VideoID: r.VideoID, Title: r.Title, Duration: r.Duration})
	}

	hit, ok := firstHit(hits)
	if !ok {
		return track.Track{}, errors.Wrapf(ErrNoResults, "no video for %q", query)
	}
	zlog.Debug().Msgf("youtube: search hit: query=%s id=%s title=%s", query, hit.VideoID, hit.Title)

	ref := track.SourceRef{Provider: track.ProviderYouTube, URL: WatchURL(hit.VideoID)}
	return track.New(hit.Title, ref, parseClock(hit.Duration), track.Requester{}), nil
}

func firstHit(hits []searchHit) (searchHit, bool) {
	for _, h := range hits {
		if h.VideoID != "" {
			return h, true
		}
	}
	return searchHit{}, false
}

