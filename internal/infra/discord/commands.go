package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
)

// Command names
const (
	cmdPlay       = "play"
	cmdSkip       = "skip"
	cmdStop       = "stop"
	cmdQueue      = "queue"
	cmdNowPlaying = "nowplaying"

	optionQuery = "query"
)

// maxQueueLines bounds the queue listing to stay below the message size limit.
const maxQueueLines = 15

// commandDefinitions returns the slash commands the bot registers.
func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdPlay,
			Description: "Play a track or add it to the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionQuery,
					Description: "Search text or a YouTube, Spotify or media link",
					Required:    true,
				},
			},
		},
		{Name: cmdSkip, Description: "Skip the current track"},
		{Name: cmdStop, Description: "Stop playback and clear the queue"},
		{Name: cmdQueue, Description: "Show the queue"},
		{Name: cmdNowPlaying, Description: "Show the current track"},
	}
}

// Player is the playback core driven by chat commands.
type Player interface {
	Play(ctx context.Context, req session.PlayRequest) (session.PlayResult, error)
	Skip(guildID string) (track.Track, error)
	Stop(guildID string)
	Queue(guildID string) []track.Track
	NowPlaying(guildID string) (track.Track, bool)
	TakeNotice(guildID string) error
}

// CommandRequest is a parsed slash command invocation.
type CommandRequest struct {
	Name           string
	GuildID        string
	VoiceChannelID string // Invoker's voice channel, empty if not connected
	TextChannelID  string
	User           track.Requester
	Query          string
	Sink           notification.Sink
}

// Commands turns command requests into replies.
type Commands struct {
	player   Player
	config   *config.Config
	cooldown *Cooldown
}

// NewCommands creates a command handler. cooldown may be nil.
func NewCommands(player Player, cfg *config.Config, cooldown *Cooldown) *Commands {
	return &Commands{
		player:   player,
		config:   cfg,
		cooldown: cooldown,
	}
}

// Handle executes the command and returns the reply text.
func (c *Commands) Handle(ctx context.Context, req CommandRequest) string {
	if req.GuildID == "" {
		return c.config.GetMessage("guild_only")
	}
	if !c.cooldown.Allow(req.User.ID) {
		zlog.Debug().Msgf("discord: command throttled: guild=%s user=%s command=%s", req.GuildID, req.User.ID, req.Name)
		return c.config.GetMessage("cooldown")
	}

	var notice string
	if err := c.player.TakeNotice(req.GuildID); err != nil {
		notice = c.config.GetMessage(errorCode(err))
	}

	reply := c.dispatch(ctx, req)
	if notice != "" {
		return notice + "\n" + reply
	}
	return reply
}

func (c *Commands) dispatch(ctx context.Context, req CommandRequest) string {
	switch req.Name {
	case cmdPlay:
		return c.play(ctx, req)

	case cmdSkip:
		skipped, err := c.player.Skip(req.GuildID)
		if err != nil {
			return c.errorReply(err)
		}
		return c.config.FormatMessage("skipped", skipped.Title)

	case cmdStop:
		c.player.Stop(req.GuildID)
		return c.config.GetMessage("stopped")

	case cmdQueue:
		return FormatQueue(c.config, c.player.Queue(req.GuildID))

	case cmdNowPlaying:
		current, ok := c.player.NowPlaying(req.GuildID)
		if !ok {
			return c.config.GetMessage("nothing_playing")
		}
		return c.config.FormatMessage("now_playing", fmt.Sprintf("%s (%s)", current.Title, current.DisplayDuration()))

	default:
		zlog.Warn().Msgf("discord: unknown command: %s", req.Name)
		return c.config.GetMessage("default_error")
	}
}

func (c *Commands) play(ctx context.Context, req CommandRequest) string {
	res, err := c.player.Play(ctx, session.PlayRequest{
		GuildID:       req.GuildID,
		ChannelID:     req.VoiceChannelID,
		TextChannelID: req.TextChannelID,
		Requester:     req.User,
		Query:         req.Query,
		Sink:          req.Sink,
	})
	if err != nil {
		return c.errorReply(err)
	}
	if res.Started {
		return c.config.FormatMessage("now_playing", res.Track.Title)
	}
	return c.config.FormatMessage("queued", res.Track.Title)
}

func (c *Commands) errorReply(err error) string {
	code := errorCode(err)
	if code == "default_error" {
		zlog.Error().Msgf("discord: command failed: %v", err)
	}
	return c.config.GetMessage(code)
}

// errorCode maps a core error to a reply message code.
func errorCode(err error) string {
	var rejected *session.RejectedError
	switch {
	case errors.As(err, &rejected):
		return rejected.Code
	case errors.Is(err, session.ErrUserNotInChannel):
		return "user_not_in_channel"
	case errors.Is(err, session.ErrTrackNotFound):
		return "track_not_found"
	case errors.Is(err, playback.ErrNothingPlaying):
		return "nothing_playing"
	case errors.Is(err, playback.ErrTransportDisconnected):
		return "disconnected"
	default:
		return "default_error"
	}
}

// FormatQueue renders a numbered queue listing.
func FormatQueue(cfg *config.Config, tracks []track.Track) string {
	if len(tracks) == 0 {
		return cfg.GetMessage("queue_empty")
	}

	var b strings.Builder
	for i, t := range tracks {
		if i == maxQueueLines {
			fmt.Fprintf(&b, "...and %d more", len(tracks)-maxQueueLines)
			break
		}
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, t.Title, t.DisplayDuration())
		if t.RequestedBy.Name != "" {
			fmt.Fprintf(&b, " - %s", t.RequestedBy.Name)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
