// Package discord connects the playback core to Discord: slash commands,
// text channel notifications and voice transport.
package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
)

// interactionTimeout bounds one command, resolution and stream start included.
const interactionTimeout = 30 * time.Second

// Bot routes Discord gateway events to the command handler and transport.
type Bot struct {
	session    *discordgo.Session
	config     *config.Config
	commands   *Commands
	transport  *VoiceTransport
	registered []*discordgo.ApplicationCommand
}

// NewBot creates a bot on an unopened Discord session.
func NewBot(s *discordgo.Session, cfg *config.Config, player Player, transport *VoiceTransport) *Bot {
	return &Bot{
		session:   s,
		config:    cfg,
		commands:  NewCommands(player, cfg, NewCooldown(cfg.Cooldown(), cfg.Commands.Burst)),
		transport: transport,
	}
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start() error {
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onVoiceStateUpdate)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord session")
	}

	if b.config.Discord.RegisterCommands == nil || *b.config.Discord.RegisterCommands {
		cmds, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.config.Discord.GuildID, commandDefinitions())
		if err != nil {
			return errors.Wrap(err, "failed to register commands")
		}
		b.registered = cmds
		zlog.Info().Msgf("discord: registered commands: count=%d guild=%s", len(cmds), b.config.Discord.GuildID)
	}
	return nil
}

// Close unregisters commands if configured and closes the gateway
// connection.
func (b *Bot) Close() error {
	if b.config.Discord.UnregisterOnExit {
		for _, cmd := range b.registered {
			if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.config.Discord.GuildID, cmd.ID); err != nil {
				zlog.Warn().Msgf("discord: failed to unregister command: name=%s error=%v", cmd.Name, err)
			}
		}
	}
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("discord: logged in: user=%s guilds=%d", r.User, len(r.Guilds))
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil {
		return
	}
	b.transport.HandleVoiceStateUpdate(s.State.User.ID, vs)
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	req := parseInteraction(i, func(guildID, userID string) string {
		vs, err := s.State.VoiceState(guildID, userID)
		if err != nil {
			return ""
		}
		return vs.ChannelID
	})
	if req.TextChannelID != "" {
		req.Sink = NewTextChannelSink(s, req.TextChannelID, b.config)
	}
	zlog.Debug().Msgf("discord: command: name=%s guild=%s user=%s", req.Name, req.GuildID, req.User.ID)

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	if req.Name != cmdPlay {
		reply := b.commands.Handle(ctx, req)
		if err := respond(s, i, reply); err != nil {
			zlog.Error().Msgf("discord: failed to respond: command=%s error=%v", req.Name, err)
		}
		return
	}

	// Resolving and starting a stream can take longer than the
	// acknowledgement deadline
	if err := respondDeferred(s, i); err != nil {
		zlog.Error().Msgf("discord: failed to defer response: error=%v", err)
		return
	}
	reply := b.commands.Handle(ctx, req)
	if err := editResponse(s, i, reply); err != nil {
		zlog.Error().Msgf("discord: failed to edit response: error=%v", err)
	}
}

// parseInteraction extracts a command request. voiceChannel looks up the
// user's current voice channel.
func parseInteraction(i *discordgo.InteractionCreate, voiceChannel func(guildID, userID string) string) CommandRequest {
	data := i.ApplicationCommandData()
	req := CommandRequest{
		Name:          data.Name,
		GuildID:       i.GuildID,
		TextChannelID: i.ChannelID,
		User:          interactionUser(i),
	}
	for _, opt := range data.Options {
		if opt.Name == optionQuery && opt.Type == discordgo.ApplicationCommandOptionString {
			req.Query = opt.StringValue()
		}
	}
	if req.GuildID != "" && req.User.ID != "" {
		req.VoiceChannelID = voiceChannel(req.GuildID, req.User.ID)
	}
	return req
}

func interactionUser(i *discordgo.InteractionCreate) track.Requester {
	var u *discordgo.User
	var name string
	switch {
	case i.Member != nil && i.Member.User != nil:
		u = i.Member.User
		name = i.Member.DisplayName()
	case i.User != nil:
		u = i.User
		name = u.GlobalName
	default:
		return track.Requester{}
	}
	if name == "" {
		name = u.Username
	}
	return track.Requester{ID: u.ID, Name: name}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}

func respondDeferred(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	return err
}
