// Package resolver turns user queries into playable tracks.
package resolver

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/domain/track"
)

// ErrNotFound is returned when no source can resolve a query.
var ErrNotFound = errors.New("track not found")

// Resolver maps a free-text query or URL to a track.
type Resolver interface {
	Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error)
}

// Source resolves one kind of query.
type Source interface {
	// Name returns the source name (used in config).
	Name() string
	// Match reports whether the source handles the query.
	Match(query string) bool
	// Resolve returns the track for the query, or ErrNotFound.
	Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error)
}

// TrackLookup fetches track metadata. Returned tracks carry no requester.
type TrackLookup interface {
	Lookup(ctx context.Context, query string) (track.Track, error)
}

// SpotifyClient defines the Spotify operations needed by the resolver.
type SpotifyClient interface {
	// IsTrackURL reports whether the query is a Spotify track link.
	IsTrackURL(query string) bool
	// SearchQuery returns an "artist - title" query for a track link.
	SearchQuery(ctx context.Context, trackURL string) (string, error)
}

// LookupSource resolves queries accepted by match through a TrackLookup.
type LookupSource struct {
	name   string
	match  func(string) bool
	lookup TrackLookup
}

// NewLookupSource creates a source backed by a lookup.
// A nil match accepts every query.
func NewLookupSource(name string, match func(string) bool, lookup TrackLookup) *LookupSource {
	return &LookupSource{name: name, match: match, lookup: lookup}
}

func (s *LookupSource) Name() string {
	return s.name
}

func (s *LookupSource) Match(query string) bool {
	return s.match == nil || s.match(query)
}

func (s *LookupSource) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	t, err := s.lookup.Lookup(ctx, query)
	if err != nil {
		return track.Track{}, err
	}
	if t.Source.IsZero() {
		return track.Track{}, errors.Wrapf(ErrNotFound, "%s returned no source", s.name)
	}
	return track.New(t.Title, t.Source, t.Duration, requester), nil
}

// SpotifySource resolves Spotify track links by searching for the same song.
type SpotifySource struct {
	spotify SpotifyClient
	search  TrackLookup
}

// NewSpotifySource creates a Spotify link source delegating to search.
func NewSpotifySource(spotify SpotifyClient, search TrackLookup) *SpotifySource {
	return &SpotifySource{spotify: spotify, search: search}
}

func (s *SpotifySource) Name() string {
	return "spotify"
}

func (s *SpotifySource) Match(query string) bool {
	return s.spotify.IsTrackURL(query)
}

func (s *SpotifySource) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	searchQuery, err := s.spotify.SearchQuery(ctx, query)
	if err != nil {
		return track.Track{}, errors.Wrap(err, "failed to look up spotify track")
	}
	t, err := s.search.Lookup(ctx, searchQuery)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "no playable match for %q", searchQuery)
	}
	return track.New(t.Title, t.Source, t.Duration, requester), nil
}

// serviceHosts are sites whose pages are never raw media.
var serviceHosts = []string{"spotify.com", "youtube.com", "youtu.be"}

// DirectSource plays http(s) media URLs as-is.
type DirectSource struct{}

func (DirectSource) Name() string {
	return "direct"
}

func (DirectSource) Match(query string) bool {
	u, err := url.Parse(query)
	if err != nil {
		return false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, service := range serviceHosts {
		if host == service || strings.HasSuffix(host, "."+service) {
			return false
		}
	}
	return true
}

func (DirectSource) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	u, err := url.Parse(query)
	if err != nil {
		return track.Track{}, errors.Wrap(ErrNotFound, err.Error())
	}
	title := path.Base(u.Path)
	if title == "/" || title == "." {
		title = u.Host
	}
	title = strings.TrimSuffix(title, path.Ext(title))
	ref := track.SourceRef{Provider: track.ProviderDirect, URL: u.String()}
	return track.New(title, ref, 0, requester), nil
}
