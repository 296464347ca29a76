// Package filter provides the filter chain for request validation.
package filter

import (
	"context"
	"maps"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/voicebox/internal/domain/track"
)

// TrackRequest represents a track request to be validated.
type TrackRequest struct {
	GuildID   string
	Requester track.Requester
}

// QueueView is the guild's playback state as seen by filters.
type QueueView struct {
	Current *track.Track
	Queued  []track.Track
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "user_pending", "queue_full", "duplicate_track"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}

// Names returns the registered filter names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Build creates a chain from the enabled filters and their settings.
// Filters run in name order.
func Build(enabled map[string]map[string]any) (*Chain, error) {
	chain := NewChain()
	for _, name := range slices.Sorted(maps.Keys(enabled)) {
		factory, ok := registry[name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
		f := factory()
		if err := f.ValidateConfig(enabled[name]); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		chain.Add(f)
	}
	return chain, nil
}

// decodeSettings decodes settings into out, applies defaults and validates.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
