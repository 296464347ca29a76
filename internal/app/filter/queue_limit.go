package filter

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxQueued int `yaml:"max_queued" mapstructure:"max_queued" default:"50" validate:"gte=1"`
}

// QueueLimitFilter caps the number of waiting tracks per guild.
type QueueLimitFilter struct {
	maxQueued int
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit_filter"
}

func (f *QueueLimitFilter) Description() string {
	return "Rejects requests when the guild queue is full"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_full"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.maxQueued = config.MaxQueued
	return nil
}

func (f *QueueLimitFilter) Check(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result {
	if f.maxQueued > 0 && len(q.Queued) >= f.maxQueued {
		return Reject("queue_full")
	}
	return Accept()
}

func init() {
	Register("queue_limit_filter", func() Filter {
		return &QueueLimitFilter{}
	})
}
