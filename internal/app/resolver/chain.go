package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Chain tries sources in order until one resolves the query.
type Chain struct {
	sources []Source
}

// NewChain creates a new resolver chain.
func NewChain(sources ...Source) *Chain {
	return &Chain{
		sources: sources,
	}
}

// Resolve resolves the query with the first matching source that succeeds.
func (c *Chain) Resolve(ctx context.Context, query string, requester track.Requester) (track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return track.Track{}, errors.Wrap(ErrNotFound, "empty query")
	}

	for i, s := range c.sources {
		if !s.Match(query) {
			continue
		}
		zlog.Debug().Msgf("resolver: trying source: index=%d total=%d name=%s", i+1, len(c.sources), s.Name())

		t, err := s.Resolve(ctx, query, requester)
		if err == nil {
			zlog.Info().Msgf("resolver: resolved: source=%s title=%s url=%s", s.Name(), t.Title, t.Source)
			return t, nil
		}
		if ctx.Err() != nil {
			return track.Track{}, errors.Mark(errors.Wrap(ctx.Err(), "resolve cancelled"), ErrNotFound)
		}

		if errors.Is(err, ErrNotFound) {
			zlog.Debug().Msgf("resolver: source had no match: source=%s query=%s", s.Name(), query)
		} else {
			zlog.Warn().Msgf("resolver: source failed, trying next: source=%s error=%v", s.Name(), err)
		}
	}

	return track.Track{}, errors.Wrapf(ErrNotFound, "no source resolved %q", query)
}

// Sources returns the source names in order.
func (c *Chain) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}
