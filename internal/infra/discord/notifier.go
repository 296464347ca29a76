package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/infra/config"
)

type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// TextChannelSink posts playback events to the text channel a command came
// from.
type TextChannelSink struct {
	sender    messageSender
	channelID string
	config    *config.Config
}

var _ notification.Sink = (*TextChannelSink)(nil)

// NewTextChannelSink creates a sink for the given channel.
func NewTextChannelSink(s messageSender, channelID string, cfg *config.Config) *TextChannelSink {
	return &TextChannelSink{
		sender:    s,
		channelID: channelID,
		config:    cfg,
	}
}

// Send posts the notification if it has a message.
func (s *TextChannelSink) Send(ctx context.Context, n *notification.Notification) error {
	content, ok := FormatEvent(s.config, n.Event)
	if !ok {
		return nil
	}
	if _, err := s.sender.ChannelMessageSend(s.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to post to channel %s", s.channelID)
	}
	return nil
}

// FormatEvent returns the channel message for an event. Events answered
// directly by a command reply have none, including the start of a track
// that /play began itself.
func FormatEvent(cfg *config.Config, e playback.Event) (string, bool) {
	title := ""
	if e.Track != nil {
		title = e.Track.Title
	}

	switch e.Type {
	case playback.EventTrackStarted:
		if !e.Autoplay {
			return "", false
		}
		return cfg.FormatMessage("now_playing", title), true
	case playback.EventTrackFailed:
		if cfg.Playback.NotifyTrackFailures == nil || !*cfg.Playback.NotifyTrackFailures {
			return "", false
		}
		return cfg.FormatMessage("track_failed", title), true
	case playback.EventQueueEmpty:
		return cfg.GetMessage("queue_empty"), true
	case playback.EventDisconnected:
		return cfg.GetMessage("disconnected"), true
	default:
		return "", false
	}
}
