package resolver

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/config"
)

// Dependencies holds the clients the configured sources are built from.
type Dependencies struct {
	Spotify    SpotifyClient     // nil when Spotify is not configured
	Videos     TrackLookup       // Video URL lookup
	IsVideoURL func(string) bool // Matches URLs handled by Videos
	Search     TrackLookup       // Free-text search
}

// NewChainFromConfig creates a resolver chain from configuration.
func NewChainFromConfig(cfg *config.Config, deps Dependencies) (*Chain, error) {
	if len(cfg.Resolver.Sources) == 0 {
		return nil, errors.New("no resolver sources configured")
	}

	var sources []Source
	for i, name := range cfg.Resolver.Sources {
		var source Source

		switch name {
		case "spotify":
			if deps.Spotify == nil {
				zlog.Info().Msg("resolver: spotify credentials not set, skipping spotify source")
				continue
			}
			if deps.Search == nil {
				return nil, errors.New("spotify source requires a search lookup")
			}
			source = NewSpotifySource(deps.Spotify, deps.Search)

		case "youtube":
			if deps.Videos == nil {
				return nil, errors.New("youtube source requires a video lookup")
			}
			source = NewLookupSource("youtube", deps.IsVideoURL, deps.Videos)

		case "direct":
			source = DirectSource{}

		case "search":
			if deps.Search == nil {
				return nil, errors.New("search source requires a search lookup")
			}
			source = NewLookupSource("search", nil, deps.Search)

		default:
			return nil, errors.Newf("unsupported resolver source: %s (index %d)", name, i)
		}

		sources = append(sources, source)
		zlog.Info().Msgf("resolver: registered source: index=%d name=%s", i+1, name)
	}

	if len(sources) == 0 {
		return nil, errors.New("no usable resolver sources")
	}
	return NewChain(sources...), nil
}
