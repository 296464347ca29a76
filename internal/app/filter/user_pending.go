package filter

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// UserPendingConfig represents the configuration for UserPendingFilter.
type UserPendingConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"3" validate:"gte=1"`
}

// UserPendingFilter limits how many tracks one user may have waiting.
type UserPendingFilter struct {
	maxPending int
}

func (f *UserPendingFilter) Name() string {
	return "user_pending_filter"
}

func (f *UserPendingFilter) Description() string {
	return "Limits the number of queued tracks per user"
}

func (f *UserPendingFilter) ReturnCodes() []string {
	return []string{"user_pending"}
}

func (f *UserPendingFilter) ValidateConfig(settings map[string]any) error {
	var config UserPendingConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.maxPending = config.MaxPending
	return nil
}

func (f *UserPendingFilter) Check(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result {
	if f.maxPending <= 0 || req.Requester.ID == "" {
		return Accept()
	}

	pending := 0
	for _, queued := range q.Queued {
		if queued.RequestedBy.ID == req.Requester.ID {
			pending++
		}
	}

	if pending >= f.maxPending {
		return Reject("user_pending")
	}
	return Accept()
}

func init() {
	Register("user_pending_filter", func() Filter {
		return &UserPendingFilter{}
	})
}
